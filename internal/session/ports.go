package session

import (
	"context"
	"encoding/json"
	"io"

	"receiptbox/internal/core"
)

// Ports for outbound collaborators.
type (
	// Service is the external transaction/analytics service. Analytics
	// payloads are opaque to the session and merged verbatim into the
	// analytics cache. BatchSave is all-or-nothing from the caller's
	// perspective.
	Service interface {
		List(ctx context.Context) ([]core.Transaction, error)
		CreateOne(ctx context.Context, txn core.Transaction) (core.Transaction, error)
		BatchSave(ctx context.Context, txns []core.Transaction) ([]core.Transaction, error)
		DeleteOne(ctx context.Context, id int64) error
		DeleteAll(ctx context.Context) error
		Upload(ctx context.Context, name string, data io.Reader) ([]core.Transaction, error)

		WeeklyAnalytics(ctx context.Context, weeks int) (json.RawMessage, error)
		MonthlyAnalytics(ctx context.Context, months int) (json.RawMessage, error)
		CategoryAnalytics(ctx context.Context, periodDays int) (json.RawMessage, error)
		CategoriesByMonth(ctx context.Context, month, year int) (json.RawMessage, error)
		SpendingSummary(ctx context.Context, periodDays int) (json.RawMessage, error)
		CalendarData(ctx context.Context, year, month int) (json.RawMessage, error)
		ByMonth(ctx context.Context, month, year int) (json.RawMessage, error)
	}

	// PeriodStore persists the "my items period" marker across client
	// restarts so month rollovers are detected even when the process was
	// down at the boundary.
	PeriodStore interface {
		Period(ctx context.Context) (string, error)
		SetPeriod(ctx context.Context, period string) error
		ClearPeriod(ctx context.Context) error
	}

	// Publisher emits session lifecycle events for downstream consumers.
	// Publishing is best-effort; failures never fail the operation.
	Publisher interface {
		PublishCommitted(ctx context.Context, batchID string, ids []int64) error
		PublishDeleted(ctx context.Context, id int64) error
		PublishRestored(ctx context.Context, id int64) error
	}

	// File is one receipt submitted to an upload batch.
	File struct {
		Name string
		Data io.Reader
	}
)
