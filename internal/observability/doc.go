// Package observability provides structured logging and in-process metrics
// for the tier router.
//
// Loggers are zap-based. Metrics are collected by an attempt observer that
// the router notifies after every candidate.
package observability
