package safe

import (
	"context"
	"io"
	"log/slog"

	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
)

// Close closes an io.Closer and logs any error. Nil closers are ignored.
func Close(ctx context.Context, closer io.Closer) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.Any("error", err))
	}
}

// CloseFunc calls a close function and logs any error. Nil functions are ignored.
func CloseFunc(ctx context.Context, name string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		logging.From(ctx).Error("Failed to close", slog.String("target", name), slog.Any("error", err))
	}
}

// Write writes data to an io.Writer and logs any error. Nil writers are ignored.
func Write(ctx context.Context, w io.Writer, data []byte) {
	if w == nil {
		return
	}
	if _, err := w.Write(data); err != nil {
		logging.From(ctx).Error("Failed to write", slog.Any("error", err))
	}
}
