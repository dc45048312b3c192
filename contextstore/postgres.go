package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillworks/kbchat/kberr"
)

// PostgresRepository stores conversations with the message list as jsonb.
// Save replaces the whole row; concurrent writers last-write-win.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, conversation *ConversationContext) error {
	messages, keywords, err := encodeJSONColumns(conversation)
	if err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, `
		INSERT INTO conversation_contexts (id, user_id, title, messages, summary, keywords, token_count, max_tokens, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10)
	`, conversation.ID, conversation.UserID, conversation.Title, messages, conversation.Summary,
		keywords, conversation.TokenCount, conversation.MaxTokens, conversation.CreatedAt, conversation.UpdatedAt); err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "insert conversation context")
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*ConversationContext, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, COALESCE(user_id, ''), title, messages, COALESCE(summary, ''), keywords, token_count, max_tokens, created_at, updated_at
		FROM conversation_contexts
		WHERE id = $1
	`, id)

	conversation, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, kberr.Wrap(kberr.KindStorage, err, "query conversation context %s", id)
	}
	return conversation, nil
}

func (r *PostgresRepository) Save(ctx context.Context, conversation *ConversationContext) error {
	messages, keywords, err := encodeJSONColumns(conversation)
	if err != nil {
		return err
	}

	if _, err := r.pool.Exec(ctx, `
		UPDATE conversation_contexts
		SET title = $2,
		    messages = $3,
		    summary = NULLIF($4, ''),
		    keywords = $5,
		    token_count = $6,
		    updated_at = $7
		WHERE id = $1
	`, conversation.ID, conversation.Title, messages, conversation.Summary,
		keywords, conversation.TokenCount, conversation.UpdatedAt); err != nil {
		return kberr.Wrap(kberr.KindStorage, err, "save conversation context %s", conversation.ID)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]ConversationContext, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(user_id, ''), title, messages, COALESCE(summary, ''), keywords, token_count, max_tokens, created_at, updated_at
		FROM conversation_contexts
		WHERE $1 = '' OR user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindStorage, err, "list conversation contexts")
	}
	defer rows.Close()

	conversations := make([]ConversationContext, 0)
	for rows.Next() {
		conversation, scanErr := scanConversation(rows)
		if scanErr != nil {
			return nil, kberr.Wrap(kberr.KindStorage, scanErr, "scan conversation context row")
		}
		conversations = append(conversations, *conversation)
	}
	if rows.Err() != nil {
		return nil, kberr.Wrap(kberr.KindStorage, rows.Err(), "iterate conversation context rows")
	}
	return conversations, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM conversation_contexts WHERE id = $1", id)
	if err != nil {
		return false, kberr.Wrap(kberr.KindStorage, err, "delete conversation context %s", id)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) DeleteNotUpdatedSince(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM conversation_contexts WHERE updated_at < $1", cutoff)
	if err != nil {
		return 0, kberr.Wrap(kberr.KindStorage, err, "delete expired conversation contexts")
	}
	return int(tag.RowsAffected()), nil
}

type conversationScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row conversationScanner) (*ConversationContext, error) {
	var (
		conversation ConversationContext
		messages     []byte
		keywords     []byte
	)
	if err := row.Scan(&conversation.ID, &conversation.UserID, &conversation.Title, &messages,
		&conversation.Summary, &keywords, &conversation.TokenCount, &conversation.MaxTokens,
		&conversation.CreatedAt, &conversation.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &conversation.Messages); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(keywords, &conversation.Keywords); err != nil {
		return nil, err
	}
	return &conversation, nil
}

func encodeJSONColumns(conversation *ConversationContext) (messages, keywords []byte, err error) {
	msgs := conversation.Messages
	if msgs == nil {
		msgs = []ContextMessage{}
	}
	messages, err = json.Marshal(msgs)
	if err != nil {
		return nil, nil, kberr.Wrap(kberr.KindStorage, err, "marshal conversation messages")
	}

	words := conversation.Keywords
	if words == nil {
		words = []string{}
	}
	keywords, err = json.Marshal(words)
	if err != nil {
		return nil, nil, kberr.Wrap(kberr.KindStorage, err, "marshal conversation keywords")
	}
	return messages, keywords, nil
}

var _ Repository = (*PostgresRepository)(nil)
