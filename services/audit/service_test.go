package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/services"
	"github.com/upb/tier-router/services/providers"
	"github.com/upb/tier-router/services/routing"
	"go.uber.org/zap"
)

// MockAttemptRepository is a mock implementation of AttemptRepository
type MockAttemptRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.AttemptRecord
}

func (m *MockAttemptRepository) Insert(ctx context.Context, record *models.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, record)
	m.inserted = append(m.inserted, record)
	return args.Error(0)
}

func (m *MockAttemptRepository) ListByCall(ctx context.Context, callID uuid.UUID) ([]*models.AttemptRecord, error) {
	args := m.Called(ctx, callID)
	if recs := args.Get(0); recs != nil {
		return recs.([]*models.AttemptRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAttemptRepository) CountByModelSince(ctx context.Context, model string, since time.Time) (map[models.AttemptOutcome]int, error) {
	args := m.Called(ctx, model, since)
	if counts := args.Get(0); counts != nil {
		return counts.(map[models.AttemptOutcome]int), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAttemptRepository) Inserted() []*models.AttemptRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AttemptRecord(nil), m.inserted...)
}

var enterprise = models.ModelDescriptor{
	ID:            "gpt-4o",
	Tier:          models.TierEnterprise,
	ContextWindow: 128000,
	CostClass:     models.CostClassPaid,
}

func TestAttemptAuditor_StartStop(t *testing.T) {
	repo := new(MockAttemptRepository)
	auditor := NewAttemptAuditor(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, auditor.Start())

	stats := auditor.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, auditor.Start())

	require.NoError(t, auditor.Stop(time.Second))
	assert.False(t, auditor.GetStats().Started)
	assert.Error(t, auditor.Stop(time.Second))
}

func TestAttemptAuditor_RecordBeforeStart(t *testing.T) {
	auditor := NewAttemptAuditor(new(MockAttemptRepository), zap.NewNop(), DefaultConfig())

	err := auditor.Record(models.NewAttemptRecord(uuid.New(), 1, enterprise, models.AttemptOutcomeSuccess))
	assert.Error(t, err)
}

func TestAttemptAuditor_PersistsOnStop(t *testing.T) {
	repo := new(MockAttemptRepository)
	repo.On("Insert", mock.Anything, mock.AnythingOfType("*models.AttemptRecord")).Return(nil)

	auditor := NewAttemptAuditor(repo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, auditor.Start())

	callID := uuid.New()
	for i := 1; i <= 20; i++ {
		require.NoError(t, auditor.Record(models.NewAttemptRecord(callID, i, enterprise, models.AttemptOutcomeFailed)))
	}

	require.NoError(t, auditor.Stop(5*time.Second))
	assert.Len(t, repo.Inserted(), 20)
	repo.AssertNumberOfCalls(t, "Insert", 20)
}

func TestAttemptAuditor_RepositoryErrorDoesNotStopWorkers(t *testing.T) {
	repo := new(MockAttemptRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	auditor := NewAttemptAuditor(repo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, auditor.Start())

	for i := 1; i <= 3; i++ {
		require.NoError(t, auditor.Record(models.NewAttemptRecord(uuid.New(), i, enterprise, models.AttemptOutcomeSuccess)))
	}

	require.NoError(t, auditor.Stop(5*time.Second))
	repo.AssertNumberOfCalls(t, "Insert", 3)
}

func TestAttemptAuditor_BufferFull(t *testing.T) {
	repo := new(MockAttemptRepository)
	release := make(chan struct{})
	repo.On("Insert", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)

	auditor := NewAttemptAuditor(repo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, auditor.Start())

	rec := func(seq int) *models.AttemptRecord {
		return models.NewAttemptRecord(uuid.New(), seq, enterprise, models.AttemptOutcomeSuccess)
	}

	// The single worker takes the first record and blocks, the second fills the buffer
	require.NoError(t, auditor.Record(rec(1)))
	require.Eventually(t, func() bool { return auditor.GetStats().PendingRecords == 0 }, time.Second, time.Millisecond)
	require.NoError(t, auditor.Record(rec(2)))

	assert.Error(t, auditor.Record(rec(3)))
	assert.Equal(t, 1, auditor.GetStats().Dropped)

	close(release)
	require.NoError(t, auditor.Stop(5*time.Second))
	repo.AssertNumberOfCalls(t, "Insert", 2)
}

func TestRecordFromEvent(t *testing.T) {
	callID := uuid.New()
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		rec := RecordFromEvent(routing.AttemptEvent{
			CallID:   callID,
			Sequence: 2,
			Time:     at,
			Result: routing.AttemptResult{
				Model:    enterprise,
				Admitted: true,
				Latency:  250 * time.Millisecond,
				Response: &providers.Response{
					Text:  "hi",
					Usage: providers.Usage{PromptTokens: 12, CompletionTokens: 30, TotalTokens: 42},
				},
			},
		})

		assert.Equal(t, callID, rec.CallID)
		assert.Equal(t, 2, rec.Sequence)
		assert.Equal(t, models.AttemptOutcomeSuccess, rec.Outcome)
		assert.Equal(t, "gpt-4o", rec.Model)
		assert.Equal(t, models.TierEnterprise, rec.Tier)
		assert.Equal(t, 250, rec.LatencyMs)
		assert.Equal(t, 12, rec.PromptTokens)
		assert.Equal(t, 30, rec.CompletionTokens)
		assert.Equal(t, at, rec.CreatedAt)
		assert.Empty(t, rec.ErrorKind)
	})

	t.Run("dispatch failure", func(t *testing.T) {
		cerr := services.NewClassifiedError(services.KindServerError, "upstream failed", nil).ForModel("gpt-4o")
		cerr.StatusCode = 502

		rec := RecordFromEvent(routing.AttemptEvent{
			CallID:   callID,
			Sequence: 1,
			Result:   routing.AttemptResult{Model: enterprise, Admitted: true, Err: cerr},
		})

		assert.Equal(t, models.AttemptOutcomeFailed, rec.Outcome)
		assert.Equal(t, "server_error", rec.ErrorKind)
		assert.Equal(t, 502, rec.StatusCode)
		assert.Contains(t, rec.ErrorMessage, "upstream failed")
		assert.False(t, rec.CreatedAt.IsZero())
	})

	t.Run("local rate limit", func(t *testing.T) {
		cerr := services.NewClassifiedError(services.KindRateLimited, "local limit reached", nil)

		rec := RecordFromEvent(routing.AttemptEvent{
			CallID:   callID,
			Sequence: 1,
			Result:   routing.AttemptResult{Model: enterprise, Admitted: false, Err: cerr},
		})

		assert.Equal(t, models.AttemptOutcomeRateLimited, rec.Outcome)
		assert.Equal(t, "rate_limited", rec.ErrorKind)
	})
}

func TestAttemptAuditor_AsObserver(t *testing.T) {
	repo := new(MockAttemptRepository)
	repo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	auditor := NewAttemptAuditor(repo, zap.NewNop(), DefaultConfig())
	require.NoError(t, auditor.Start())

	var obs routing.Observer = auditor
	obs.OnAttempt(context.Background(), routing.AttemptEvent{
		CallID:   uuid.New(),
		Sequence: 1,
		Result:   routing.AttemptResult{Model: enterprise, Admitted: true, Response: &providers.Response{Text: "ok"}},
	})

	require.NoError(t, auditor.Stop(5*time.Second))
	inserted := repo.Inserted()
	require.Len(t, inserted, 1)
	assert.True(t, inserted[0].IsSuccess())
}
