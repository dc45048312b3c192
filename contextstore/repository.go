package contextstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists conversation contexts. Save replaces the whole row;
// there is no optimistic concurrency control, so concurrent writers to the
// same conversation race and the last write wins.
type Repository interface {
	Insert(ctx context.Context, conversation *ConversationContext) error
	Get(ctx context.Context, id uuid.UUID) (*ConversationContext, error)
	Save(ctx context.Context, conversation *ConversationContext) error
	ListByUser(ctx context.Context, userID string, limit int) ([]ConversationContext, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteNotUpdatedSince(ctx context.Context, cutoff time.Time) (int, error)
}
