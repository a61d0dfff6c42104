package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"receiptbox/internal/core"
	"receiptbox/internal/log"
)

const periodLayout = "2006-01"

// ControllerConfig carries the tunables and injected collaborators of a
// Controller. The clock is injected so month-rollover behavior is
// deterministic under test and never depends on ambient wall-clock reads.
type ControllerConfig struct {
	Now        func() time.Time
	Publisher  Publisher
	Logger     *log.Logger
	Weeks      int // weekly analytics window
	Months     int // monthly analytics window
	PeriodDays int // category/summary analytics window
}

// DefaultControllerConfig mirrors the windows the original client asked
// the analytics endpoints for.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Now:        time.Now,
		Weeks:      4,
		Months:     12,
		PeriodDays: 30,
	}
}

// Controller sequences network operations against the external service
// and folds every outcome into Store transitions. It owns the session
// reset policy: purge on logout, selection reset on month rollover.
type Controller struct {
	store  *Store
	svc    Service
	period PeriodStore
	events Publisher
	now    func() time.Time
	logger *log.Logger
	cfg    ControllerConfig
}

func NewController(store *Store, svc Service, period PeriodStore, cfg ControllerConfig) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Weeks < 1 {
		cfg.Weeks = 4
	}
	if cfg.Months < 1 {
		cfg.Months = 12
	}
	if cfg.PeriodDays < 1 {
		cfg.PeriodDays = 30
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Config{Component: log.ComponentSession})
	}
	return &Controller{
		store:  store,
		svc:    svc,
		period: period,
		events: cfg.Publisher,
		now:    cfg.Now,
		logger: cfg.Logger,
		cfg:    cfg,
	}
}

// Store exposes the session store for read access to derived views.
func (c *Controller) Store() *Store {
	return c.store
}

// Upload processes a batch of receipt files one at a time, in submission
// order, so upload-log indexes stay stable and status updates never race.
// A failing file is recorded on its log entry and the batch continues.
// When the batch settles, the concatenated extractions of the successful
// files replace the staged list: a fresh batch discards prior unreviewed
// candidates.
func (c *Controller) Upload(ctx context.Context, files []File) {
	if len(files) == 0 {
		return
	}
	gen := c.store.Generation()
	batchID := uuid.NewString()

	start := len(c.store.Uploads())
	items := make([]UploadItem, len(files))
	for i, f := range files {
		items[i] = UploadItem{Name: f.Name, Status: core.UploadPending}
	}
	c.store.Dispatch(AddUploadItems{Items: items})

	var extracted []core.Transaction
	for i, f := range files {
		idx := start + i
		c.store.Dispatch(UpdateUploadItem{Index: idx, Status: core.UploadUploading})
		txns, err := c.svc.Upload(ctx, f.Name, f.Data)
		if err != nil {
			c.logger.WarnContext(ctx, "Receipt upload failed",
				log.FieldBatchID, batchID, log.FieldFileName, f.Name, log.FieldError, err)
			c.store.Dispatch(UpdateUploadItem{Index: idx, Status: core.UploadError, Error: err.Error()})
			continue
		}
		extracted = append(extracted, txns...)
		c.store.Dispatch(UpdateUploadItem{Index: idx, Status: core.UploadSuccess})
	}

	if c.store.Generation() != gen {
		// The session was reset while the batch was in flight; staging
		// the results now would resurrect cleared data.
		c.logger.InfoContext(ctx, "Dropping stale upload batch", log.FieldBatchID, batchID)
		return
	}
	if len(extracted) > 0 {
		c.store.Dispatch(SetTransactions{List: extracted})
	}
	c.logger.InfoContext(ctx, "Upload batch settled",
		log.FieldBatchID, batchID, log.FieldCount, len(extracted))
}

// Toggle flips membership of txn in the curated selection. Before the
// toggle it reconciles the persisted period marker with the clock: on a
// month rollover the selection is cleared first, so a curated set never
// silently spans a month boundary.
func (c *Controller) Toggle(ctx context.Context, txn core.Transaction) {
	c.ensureCurrentPeriod(ctx)
	c.store.Dispatch(ToggleSelection{Txn: txn})
}

func (c *Controller) ensureCurrentPeriod(ctx context.Context) {
	current := c.now().Format(periodLayout)
	stored, err := c.period.Period(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Reading period marker failed", log.FieldError, err)
		return
	}
	if stored == current {
		return
	}
	c.store.Dispatch(ClearSelection{})
	if err := c.period.SetPeriod(ctx, current); err != nil {
		c.logger.WarnContext(ctx, "Writing period marker failed",
			log.FieldPeriod, current, log.FieldError, err)
	}
}

// Commit persists the curated selection exactly once. An empty selection
// short-circuits without a network call. On success the committed log is
// set and the selection cleared in one transition, committed keys are
// pruned from the staged list, and analytics refresh. On failure the
// selection and staged list are untouched and the error is returned.
func (c *Controller) Commit(ctx context.Context) error {
	selection := c.store.Selection()
	if len(selection) == 0 {
		// Nothing curated: no network call, no state change.
		return nil
	}
	gen := c.store.Generation()

	saved, err := c.svc.BatchSave(ctx, selection)
	if err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return fmt.Errorf("batch save: %w", err)
	}
	if c.store.Generation() != gen {
		// The session was reset while the save was in flight; folding the
		// result in now would resurrect purged state. The records are
		// persisted server-side and show up on the next load.
		c.logger.InfoContext(ctx, "Dropping stale commit result", log.FieldCount, len(saved))
		return nil
	}

	committed := make(map[core.Key]struct{}, len(selection))
	for _, txn := range selection {
		committed[txn.Key()] = struct{}{}
	}
	staged := c.store.Transactions()
	remaining := make([]core.Transaction, 0, len(staged))
	for _, txn := range staged {
		if _, ok := committed[txn.Key()]; ok {
			continue
		}
		remaining = append(remaining, txn)
	}
	c.store.Dispatch(
		CommitSelection{List: selection},
		SetTransactions{List: remaining},
		ClearError{},
	)
	c.RefreshAnalytics(ctx)

	ids := persistedIDs(saved)
	c.publish(ctx, func(p Publisher) error {
		return p.PublishCommitted(ctx, uuid.NewString(), ids)
	})
	c.logger.InfoContext(ctx, "Committed selection", log.FieldCount, len(selection))
	return nil
}

// DeleteOne asks the backend to delete a persisted transaction. The
// record is shadow-copied into the deleted log before the call, so a
// failed call still leaves a recoverable copy; the shadow may then
// describe a record that was or was not actually removed server-side.
// Transport failures are recorded but not returned.
func (c *Controller) DeleteOne(ctx context.Context, txn core.Transaction) error {
	if !txn.ID.Valid {
		return core.ErrNotPersisted
	}
	c.store.Dispatch(AddDeleted{List: []core.Transaction{txn}})

	if err := c.svc.DeleteOne(ctx, txn.ID.Int64); err != nil {
		c.logger.WarnContext(ctx, "Delete failed, keeping session shadow",
			log.FieldTxnID, txn.ID.Int64, log.FieldError, err)
		c.store.Dispatch(SetError{Message: err.Error()})
		return nil
	}

	actions := []Action{}
	if c.store.SelectionContains(txn.Key()) {
		actions = append(actions, ToggleSelection{Txn: txn})
	}
	remaining := withoutKey(c.store.Transactions(), txn.Key())
	actions = append(actions, SetTransactions{List: remaining})
	c.store.Dispatch(actions...)

	c.publish(ctx, func(p Publisher) error { return p.PublishDeleted(ctx, txn.ID.Int64) })
	return nil
}

// DismissDeleted drops a shadow entry without recreating the record.
func (c *Controller) DismissDeleted(index int) {
	c.store.Dispatch(RemoveDeleted{Index: index})
}

// Restore recreates a shadow-logged transaction via the create endpoint,
// toggles the (newly identified) record into the selection and drops the
// shadow entry. Failure leaves the shadow intact so the user can retry.
func (c *Controller) Restore(ctx context.Context, index int) error {
	shadows := c.store.Deleted()
	if index < 0 || index >= len(shadows) {
		return fmt.Errorf("no deleted entry at index %d", index)
	}
	payload := shadows[index]
	payload.ID = core.TxnID{}
	if payload.Source == "" {
		payload.Source = core.SourceManualRestore
	}
	gen := c.store.Generation()

	restored, err := c.svc.CreateOne(ctx, payload)
	if err != nil {
		c.logger.WarnContext(ctx, "Restore failed, keeping session shadow",
			log.FieldKey, string(payload.Key()), log.FieldError, err)
		return fmt.Errorf("restore transaction: %w", err)
	}
	if c.store.Generation() != gen {
		// Reset mid-flight: the record is recreated server-side but must
		// not re-enter the purged session.
		c.logger.InfoContext(ctx, "Dropping stale restore result",
			log.FieldKey, string(payload.Key()))
		return nil
	}

	c.store.Dispatch(
		ToggleSelection{Txn: restored},
		RemoveDeleted{Index: index},
	)
	if restored.ID.Valid {
		c.publish(ctx, func(p Publisher) error { return p.PublishRestored(ctx, restored.ID.Int64) })
	}
	return nil
}

// ClearSelection empties "My Items" without touching anything else.
func (c *Controller) ClearSelection() {
	c.store.Dispatch(ClearSelection{})
}

// SetCalendarPeriod switches the month/year the calendar views show.
func (c *Controller) SetCalendarPeriod(month, year int) {
	c.store.Dispatch(SetCalendarPeriod{Month: month, Year: year})
}

// Reset is the logout purge: in-memory session data never survives a
// logout; the persisted store is the only durable copy. The period
// marker is dropped alongside.
func (c *Controller) Reset(ctx context.Context) {
	c.store.Dispatch(Reset{})
	if err := c.period.ClearPeriod(ctx); err != nil {
		c.logger.WarnContext(ctx, "Clearing period marker failed", log.FieldError, err)
	}
	c.logger.InfoContext(ctx, "Session reset")
}

// LoadTransactions replaces the staged list with the backend's persisted
// records. Read failures are recorded and the UI degrades to stale data.
func (c *Controller) LoadTransactions(ctx context.Context) {
	gen := c.store.Generation()
	c.store.Dispatch(SetLoading{Loading: true})
	list, err := c.svc.List(ctx)
	if err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return
	}
	if c.store.Generation() != gen {
		return
	}
	c.store.Dispatch(SetTransactions{List: list})
}

// LoadForEdit merges the backend's persisted records into the selection
// so they can be reviewed or deleted; records already selected stay put.
func (c *Controller) LoadForEdit(ctx context.Context) error {
	list, err := c.svc.List(ctx)
	if err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return fmt.Errorf("load for edit: %w", err)
	}
	for _, txn := range list {
		if c.store.SelectionContains(txn.Key()) {
			continue
		}
		c.store.Dispatch(ToggleSelection{Txn: txn})
	}
	return nil
}

// CloseEdit leaves edit mode, releasing records held in the selection.
func (c *Controller) CloseEdit() {
	c.store.Dispatch(ClearSelection{})
}

// ClearAll deletes every persisted transaction and drops the session's
// staged list, selection and committed log with it.
func (c *Controller) ClearAll(ctx context.Context) error {
	if err := c.svc.DeleteAll(ctx); err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return fmt.Errorf("delete all: %w", err)
	}
	c.store.Dispatch(
		SetTransactions{},
		CommitSelection{},
	)
	return nil
}

// RefreshAnalytics fetches the weekly, monthly, category and summary
// payloads concurrently and merges them into the cache in one
// transition. Any fetch failure is recorded and the cache left as-is.
func (c *Controller) RefreshAnalytics(ctx context.Context) {
	gen := c.store.Generation()
	var weekly, monthly, categories, summary json.RawMessage

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		weekly, err = c.svc.WeeklyAnalytics(gctx, c.cfg.Weeks)
		return err
	})
	g.Go(func() (err error) {
		monthly, err = c.svc.MonthlyAnalytics(gctx, c.cfg.Months)
		return err
	})
	g.Go(func() (err error) {
		categories, err = c.svc.CategoryAnalytics(gctx, c.cfg.PeriodDays)
		return err
	})
	g.Go(func() (err error) {
		summary, err = c.svc.SpendingSummary(gctx, c.cfg.PeriodDays)
		return err
	})
	if err := g.Wait(); err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return
	}
	if c.store.Generation() != gen {
		return
	}
	c.store.Dispatch(SetAnalytics{Patch: Analytics{
		Weekly:     weekly,
		Monthly:    monthly,
		Categories: categories,
		Summary:    summary,
	}})
}

// LoadCalendar refreshes only the calendar field of the analytics cache.
func (c *Controller) LoadCalendar(ctx context.Context, year, month int) {
	gen := c.store.Generation()
	payload, err := c.svc.CalendarData(ctx, year, month)
	if err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return
	}
	if c.store.Generation() != gen {
		return
	}
	c.store.Dispatch(SetAnalytics{Patch: Analytics{Calendar: payload}})
}

// LoadMonthSummary refreshes the by-month field for a single month; a
// year of zero means the backend's current year.
func (c *Controller) LoadMonthSummary(ctx context.Context, month, year int) {
	gen := c.store.Generation()
	payload, err := c.svc.ByMonth(ctx, month, year)
	if err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return
	}
	if c.store.Generation() != gen {
		return
	}
	c.store.Dispatch(SetAnalytics{Patch: Analytics{ByMonth: payload}})
}

// LoadCategoryBreakdown refreshes the per-category breakdown for a
// single month.
func (c *Controller) LoadCategoryBreakdown(ctx context.Context, month, year int) {
	gen := c.store.Generation()
	payload, err := c.svc.CategoriesByMonth(ctx, month, year)
	if err != nil {
		c.store.Dispatch(SetError{Message: err.Error()})
		return
	}
	if c.store.Generation() != gen {
		return
	}
	c.store.Dispatch(SetAnalytics{Patch: Analytics{CategoriesByMonth: payload}})
}

func (c *Controller) publish(ctx context.Context, fn func(Publisher) error) {
	if c.events == nil {
		return
	}
	if err := fn(c.events); err != nil {
		// Events are advisory; the session state is already settled.
		c.logger.WarnContext(ctx, "Publishing session event failed", log.FieldError, err)
	}
}

func persistedIDs(txns []core.Transaction) []int64 {
	ids := make([]int64, 0, len(txns))
	for _, txn := range txns {
		if txn.ID.Valid {
			ids = append(ids, txn.ID.Int64)
		}
	}
	return ids
}

func withoutKey(txns []core.Transaction, k core.Key) []core.Transaction {
	out := make([]core.Transaction, 0, len(txns))
	for _, txn := range txns {
		if txn.Key() == k {
			continue
		}
		out = append(out, txn)
	}
	return out
}
