package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/llmops/govern/internal/model"
)

// CHUsageRepository archives per-request usage events in ClickHouse and
// serves the event listing API.
type CHUsageRepository interface {
	InsertEvent(ctx context.Context, ev *model.UsageEvent) error
	ListEvents(ctx context.Context, vkID string, limit, offset int) ([]model.UsageEvent, error)
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) CHUsageRepository {
	return &chUsageRepository{ch: ch}
}

func (r *chUsageRepository) InsertEvent(ctx context.Context, ev *model.UsageEvent) error {
	const q = `
		INSERT INTO govern.usage_events
		    (id, virtual_key_id, provider, model, tokens, cost, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		ev.ID, ev.VirtualKeyID, ev.Provider, ev.Model, ev.Tokens, ev.Cost, ev.Success, ev.CreatedAt)
	return err
}

func (r *chUsageRepository) ListEvents(ctx context.Context, vkID string, limit, offset int) ([]model.UsageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, virtual_key_id, provider, model, tokens, cost, success, created_at
		FROM govern.usage_events
	`
	args := []any{}
	if vkID != "" {
		q += " WHERE virtual_key_id = ?"
		args = append(args, vkID)
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows := []model.UsageEvent{}
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
