// Package repository persists processed calls and versioned scorecards.
package repository

import (
	"context"

	"github.com/okian/callqa/internal/domain/model"
)

// Store provides read/write access to calls and scorecards.
type Store interface {
	// SaveCall inserts a call and returns its ID.
	// Returns ErrConflict if a call with the same filename exists.
	SaveCall(ctx context.Context, call model.CallRecord) (int64, error)

	// ListCalls returns every call newest first, without transcript, analysis or grades.
	ListCalls(ctx context.Context) ([]model.CallRecord, error)

	// GetCall returns a full call. Returns ErrNotFound if id is unknown.
	GetCall(ctx context.Context, id int64) (model.CallRecord, error)

	// DeleteCall removes a call and reports whether it existed.
	DeleteCall(ctx context.Context, id int64) (bool, error)

	CountCalls(ctx context.Context) (int64, error)

	// SaveScorecard inserts or replaces the scorecard with the same version.
	SaveScorecard(ctx context.Context, sc model.Scorecard) error

	// GetScorecard returns ErrNotFound if version is unknown.
	GetScorecard(ctx context.Context, version int) (model.Scorecard, error)

	// LatestScorecard returns the highest version. Returns ErrNotFound if none exist.
	LatestScorecard(ctx context.Context) (model.Scorecard, error)

	Close() error
}
