package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, store_id, customer_phone, state, context, version, created_at, updated_at`

// GetConversation returns the conversation of a customer with a store.
func (r *PostgresRepository) GetConversation(ctx context.Context, storeID, phone string) (*Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE store_id = $1 AND customer_phone = $2 LIMIT 1;`
	conv, err := scanConversation(r.pool.QueryRow(ctx, q, storeID, phone))
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", pgErr(err))
	}
	return conv, nil
}

// SaveConversation upserts the conversation on (store, phone) and bumps its version.
func (r *PostgresRepository) SaveConversation(ctx context.Context, conv Conversation) (*Conversation, error) {
	q := `
INSERT INTO conversations (id, store_id, customer_phone, state, context, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
ON CONFLICT (store_id, customer_phone) DO UPDATE SET
    state = EXCLUDED.state,
    context = EXCLUDED.context,
    version = conversations.version + 1,
    updated_at = EXCLUDED.updated_at
RETURNING ` + conversationColumns + `;`
	row := r.pool.QueryRow(ctx, q,
		uuid.NewString(),
		conv.StoreID,
		conv.CustomerPhone,
		conv.State,
		jsonParam(conv.Context),
		timeOrNow(conv.UpdatedAt),
	)
	saved, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}
	return saved, nil
}

// ClearConversation deletes the conversation so the next message starts fresh.
func (r *PostgresRepository) ClearConversation(ctx context.Context, storeID, phone string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM conversations WHERE store_id = $1 AND customer_phone = $2;`, storeID, phone)
	if err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// ListIdleConversations returns conversations in state whose last update falls
// within [updatedAfter, updatedBefore].
func (r *PostgresRepository) ListIdleConversations(ctx context.Context, state string, updatedBefore, updatedAfter time.Time, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `
SELECT ` + conversationColumns + `
FROM conversations
WHERE state = $1 AND updated_at <= $2 AND updated_at >= $3
ORDER BY updated_at ASC
LIMIT $4;`
	rows, err := r.pool.Query(ctx, q, state, updatedBefore.UTC(), updatedAfter.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list idle conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle conversation: %w", err)
		}
		out = append(out, *conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate idle conversations: %w", err)
	}
	return out, nil
}

// TransitionConversation moves a conversation from one state to another only if
// nobody touched it since version was read. It reports whether the row changed.
func (r *PostgresRepository) TransitionConversation(ctx context.Context, id, from, to string, version int64, at time.Time) (bool, error) {
	const q = `
UPDATE conversations
SET state = $3, version = version + 1, updated_at = $5
WHERE id = $1 AND state = $2 AND version = $4;
`
	ct, err := r.pool.Exec(ctx, q, id, from, to, version, timeOrNow(at))
	if err != nil {
		return false, fmt.Errorf("transition conversation: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var raw []byte
	if err := row.Scan(&c.ID, &c.StoreID, &c.CustomerPhone, &c.State, &raw, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		c.Context = raw
	}
	return &c, nil
}

func jsonParam(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}
