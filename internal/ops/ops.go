// Package ops is the operational error channel: a JSON event log of failures
// that must not disappear silently but are never shown to API callers, such
// as identifications whose audit record could not be written.
package ops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/kozaktomas/face-gallery/internal/config"
)

// Event names
const (
	EventAuditWriteFailed   = "audit_write_failed"
	EventIntegrityViolation = "integrity_violation"
	EventStorageFailure     = "storage_failure"
	EventExtractorFailure   = "extractor_failure"
	EventCacheFailure       = "cache_failure"
	EventSweepRemoved       = "integrity_sweep_removed"
	EventSchedulerFailure   = "scheduler_failure"
)

// Channel writes operational events.
type Channel struct {
	logger *slog.Logger
	closer io.Closer
}

// New opens the channel. Events always go to stderr; with cfg.LogPath set
// they are also written to a daily rotated file kept for cfg.MaxAgeHours.
func New(cfg config.OpsConfig) (*Channel, error) {
	if cfg.LogPath == "" {
		return NewWithWriter(os.Stderr), nil
	}

	rl, err := rotatelogs.New(
		cfg.LogPath+".%Y%m%d",
		rotatelogs.WithLinkName(cfg.LogPath),
		rotatelogs.WithMaxAge(time.Duration(cfg.MaxAgeHours)*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("opening ops log %s: %w", cfg.LogPath, err)
	}

	c := NewWithWriter(io.MultiWriter(os.Stderr, rl))
	c.closer = rl
	return c, nil
}

// NewWithWriter creates a channel writing JSON lines to w.
func NewWithWriter(w io.Writer) *Channel {
	return &Channel{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// Discard returns a channel that drops every event.
func Discard() *Channel {
	return NewWithWriter(io.Discard)
}

// Report records an event with an optional cause and key/value attributes.
func (c *Channel) Report(ctx context.Context, event string, err error, attrs ...any) {
	if c == nil {
		return
	}
	args := append([]any{slog.String("event", event)}, attrs...)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	c.logger.ErrorContext(ctx, event, args...)
}

// Close releases the rotated log file, if any.
func (c *Channel) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	if err := c.closer.Close(); err != nil {
		return fmt.Errorf("closing ops log: %w", err)
	}
	return nil
}
