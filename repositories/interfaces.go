package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tier-router/models"
)

// AttemptRepository persists the per-candidate attempts of routed calls
type AttemptRepository interface {
	// Insert stores a single attempt record
	Insert(ctx context.Context, record *models.AttemptRecord) error

	// ListByCall returns the attempts of one routed call in sequence order
	ListByCall(ctx context.Context, callID uuid.UUID) ([]*models.AttemptRecord, error)

	// CountByModelSince summarizes attempts per outcome for a model since a point in time
	CountByModelSince(ctx context.Context, model string, since time.Time) (map[models.AttemptOutcome]int, error)
}
