package avatar

import (
	"context"
	"log/slog"

	slogcontext "github.com/veqryn/slog-context"
)

// Status is the load state of an avatar.
type Status int

const (
	StatusIdle Status = iota
	StatusResolving
	StatusLoading
	StatusCombining
	StatusReady
	StatusFailed
	// StatusCancelled is only reached by a cancelled load of an avatar with nothing committed.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusResolving:
		return "Resolving"
	case StatusLoading:
		return "Loading"
	case StatusCombining:
		return "Combining"
	case StatusReady:
		return "Ready"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Reporter is notified when an avatar becomes Ready or Failed.
// Implementations must not block and must not call back into the avatar.
type Reporter interface {
	ReportStatus(ctx context.Context, id string, status Status, err error)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, id string, status Status, err error)

func (f ReporterFunc) ReportStatus(ctx context.Context, id string, status Status, err error) {
	f(ctx, id, status, err)
}

// LogReporter reports status changes to the context logger.
type LogReporter struct{}

func (LogReporter) ReportStatus(ctx context.Context, id string, status Status, err error) {
	logger := slogcontext.FromCtx(ctx).With(slog.String("realm", "avatar"))
	if err != nil {
		logger.Log(ctx, slog.LevelWarn, "avatar status", slog.String("avatar", id), slog.String("status", status.String()), slog.Any("error", err))
		return
	}
	logger.Log(ctx, slog.LevelInfo, "avatar status", slog.String("avatar", id), slog.String("status", status.String()))
}
