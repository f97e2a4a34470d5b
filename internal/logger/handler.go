package logger

import (
	"context"
	"log/slog"

	"policyscan/internal/runctx"
)

type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := runctx.RunID(ctx); id != "" {
		r.AddAttrs(slog.String("run_id", id))
	}
	if id := runctx.ItemID(ctx); id != "" {
		r.AddAttrs(slog.String("item_id", id))
	}
	return h.Handler.Handle(ctx, r)
}
