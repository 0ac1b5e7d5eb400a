package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/tier-router/app"
	"github.com/upb/tier-router/config"
	"github.com/upb/tier-router/internal/observability"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/providers"
	"github.com/upb/tier-router/services/routing"
	"go.uber.org/zap"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	model       string
	prompt      string
	temperature *float64
	maxContext  int
	list        bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("tier-router", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	var temperature float64
	fs.StringVar(&opts.model, "model", "", "preferred model id")
	fs.StringVar(&opts.prompt, "prompt", "", "prompt text; read from stdin when empty")
	fs.Float64Var(&temperature, "temperature", 0, "sampling temperature (upstream default when unset)")
	fs.IntVar(&opts.maxContext, "max-context", 0, "desired context length in tokens (0 means the model's window)")
	fs.BoolVar(&opts.list, "list", false, "print the model registry with fallback chains and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "temperature" {
			opts.temperature = &temperature
		}
	})

	if !opts.list && opts.model == "" {
		return nil, errors.New("-model is required")
	}
	if opts.maxContext < 0 {
		return nil, errors.New("-max-context must not be negative")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return exitFailure
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		_ = logger.Sync()
		return exitFailure
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if opts.list {
		if err := enc.Encode(catalog(deps)); err != nil {
			logger.Error("failed to write catalog", zap.Error(err))
			return exitFailure
		}
		return exitOK
	}

	prompt := opts.prompt
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read prompt", zap.Error(err))
			return exitFailure
		}
		prompt = string(data)
	}

	res, err := deps.Router.Route(ctx, prompt, opts.model, routing.Options{
		Temperature:      opts.temperature,
		MaxContextTokens: opts.maxContext,
	})
	if err != nil {
		_ = enc.Encode(failureOutput(err))
		return exitFailure
	}

	if err := enc.Encode(successOutput(res)); err != nil {
		logger.Error("failed to write result", zap.Error(err))
		return exitFailure
	}
	return exitOK
}

type catalogEntry struct {
	models.ModelDescriptor
	Fallbacks []string `json:"fallbacks"`
}

func catalog(deps *app.Dependencies) []catalogEntry {
	all := deps.Registry.AllModels()
	out := make([]catalogEntry, 0, len(all))
	for _, m := range all {
		chain, _ := deps.Resolver.Resolve(m.ID)
		if chain == nil {
			chain = []string{}
		}
		out = append(out, catalogEntry{ModelDescriptor: m, Fallbacks: chain})
	}
	return out
}

type attemptOutput struct {
	Model      string `json:"model"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

type success struct {
	CallID    string          `json:"call_id"`
	Text      string          `json:"text"`
	ModelUsed string          `json:"model_used"`
	Tier      models.Tier     `json:"tier"`
	Degraded  bool            `json:"degraded"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Usage     providers.Usage `json:"usage"`
	Failed    []attemptOutput `json:"failed,omitempty"`
}

type failure struct {
	CallID    string          `json:"call_id,omitempty"`
	ErrorKind string          `json:"error_kind"`
	Message   string          `json:"message"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Attempts  []attemptOutput `json:"attempts"`
}

func attempts(errs []*services.ClassifiedError) []attemptOutput {
	out := make([]attemptOutput, 0, len(errs))
	for _, ce := range errs {
		out = append(out, attemptOutput{
			Model:      ce.Model,
			Kind:       string(ce.Kind),
			Message:    ce.Message,
			StatusCode: ce.StatusCode,
		})
	}
	return out
}

func successOutput(res *routing.Success) success {
	return success{
		CallID:    res.CallID.String(),
		Text:      res.Text,
		ModelUsed: res.ModelUsed,
		Tier:      res.Tier,
		Degraded:  res.Degraded,
		ElapsedMs: res.Elapsed.Milliseconds(),
		Usage:     res.Usage,
		Failed:    attempts(res.Failed),
	}
}

func failureOutput(err error) failure {
	var f *routing.Failure
	if !errors.As(err, &f) {
		return failure{ErrorKind: string(services.KindUnknownError), Message: err.Error(), Attempts: []attemptOutput{}}
	}
	return failure{
		CallID:    f.CallID.String(),
		ErrorKind: string(f.Kind),
		Message:   f.Error(),
		ElapsedMs: f.Elapsed.Milliseconds(),
		Attempts:  attempts(f.Attempts),
	}
}
