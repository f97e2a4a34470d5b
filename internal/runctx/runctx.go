package runctx

import (
	"context"

	"github.com/google/uuid"
)

type key int

const (
	RunIDKey key = iota
	ItemIDKey
)

// NewRunID mints the identifier that keys a run's artifacts and ledger row.
func NewRunID() string {
	return uuid.New().String()
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

func WithItemID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ItemIDKey, id)
}

func ItemID(ctx context.Context) string {
	if id, ok := ctx.Value(ItemIDKey).(string); ok {
		return id
	}
	return ""
}
