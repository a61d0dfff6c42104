package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"receiptbox/internal/core"
	"receiptbox/internal/log"
)

type uploadResult struct {
	txns []core.Transaction
	err  error
}

type fakeService struct {
	mu sync.Mutex

	listResult []core.Transaction
	listErr    error

	batchErr   error
	batchCalls int
	batchHook  func()
	nextID     int64

	createErr  error
	createHook func()

	deleteErr    error
	deleteAllErr error
	deleteCalls  []int64

	uploads    map[string]uploadResult
	uploadHook func(name string)

	analyticsErr   error
	analyticsCalls int
}

func (f *fakeService) List(context.Context) ([]core.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]core.Transaction(nil), f.listResult...), nil
}

func (f *fakeService) CreateOne(_ context.Context, txn core.Transaction) (core.Transaction, error) {
	if f.createHook != nil {
		f.createHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return core.Transaction{}, f.createErr
	}
	f.nextID++
	txn.ID = core.PersistedID(f.nextID)
	return txn, nil
}

func (f *fakeService) BatchSave(_ context.Context, txns []core.Transaction) ([]core.Transaction, error) {
	if f.batchHook != nil {
		f.batchHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	out := make([]core.Transaction, len(txns))
	for i, txn := range txns {
		f.nextID++
		txn.ID = core.PersistedID(f.nextID)
		out[i] = txn
	}
	return out, nil
}

func (f *fakeService) DeleteOne(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, id)
	return f.deleteErr
}

func (f *fakeService) DeleteAll(context.Context) error {
	return f.deleteAllErr
}

func (f *fakeService) Upload(_ context.Context, name string, _ io.Reader) ([]core.Transaction, error) {
	if f.uploadHook != nil {
		f.uploadHook(name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.uploads[name]
	return res.txns, res.err
}

func (f *fakeService) analytics(endpoint string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyticsErr != nil {
		return nil, f.analyticsErr
	}
	f.analyticsCalls++
	return json.RawMessage(`{"endpoint":"` + endpoint + `"}`), nil
}

func (f *fakeService) WeeklyAnalytics(context.Context, int) (json.RawMessage, error) {
	return f.analytics("weekly")
}

func (f *fakeService) MonthlyAnalytics(context.Context, int) (json.RawMessage, error) {
	return f.analytics("monthly")
}

func (f *fakeService) CategoryAnalytics(context.Context, int) (json.RawMessage, error) {
	return f.analytics("categories")
}

func (f *fakeService) CategoriesByMonth(context.Context, int, int) (json.RawMessage, error) {
	return f.analytics("categories-by-month")
}

func (f *fakeService) SpendingSummary(context.Context, int) (json.RawMessage, error) {
	return f.analytics("summary")
}

func (f *fakeService) CalendarData(context.Context, int, int) (json.RawMessage, error) {
	return f.analytics("calendar")
}

func (f *fakeService) ByMonth(context.Context, int, int) (json.RawMessage, error) {
	return f.analytics("by-month")
}

type fakePeriod struct {
	value   string
	getErr  error
	setErr  error
	cleared bool
}

func (p *fakePeriod) Period(context.Context) (string, error) {
	return p.value, p.getErr
}

func (p *fakePeriod) SetPeriod(_ context.Context, period string) error {
	if p.setErr != nil {
		return p.setErr
	}
	p.value = period
	return nil
}

func (p *fakePeriod) ClearPeriod(context.Context) error {
	p.value = ""
	p.cleared = true
	return nil
}

type fakePublisher struct {
	committed [][]int64
	deleted   []int64
	restored  []int64
}

func (p *fakePublisher) PublishCommitted(_ context.Context, _ string, ids []int64) error {
	p.committed = append(p.committed, ids)
	return nil
}

func (p *fakePublisher) PublishDeleted(_ context.Context, id int64) error {
	p.deleted = append(p.deleted, id)
	return nil
}

func (p *fakePublisher) PublishRestored(_ context.Context, id int64) error {
	p.restored = append(p.restored, id)
	return nil
}

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestController(svc *fakeService) (*Controller, *Store, *fakePeriod, *fakePublisher) {
	store := NewStore(testNow)
	period := &fakePeriod{value: testNow.Format(periodLayout)}
	pub := &fakePublisher{}

	cfg := DefaultControllerConfig()
	cfg.Now = func() time.Time { return testNow }
	cfg.Publisher = pub
	cfg.Logger = log.New(log.Config{
		Component: log.ComponentSession,
		Handler:   slog.NewTextHandler(io.Discard, nil),
	})
	return NewController(store, svc, period, cfg), store, period, pub
}

func TestCommitEmptySelectionIssuesNoCall(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, _ := newTestController(svc)
	store.Dispatch(
		SetTransactions{List: []core.Transaction{txnA()}},
		CommitSelection{List: []core.Transaction{txnC()}},
	)

	if err := ctrl.Commit(context.Background()); err != nil {
		t.Fatalf("empty commit should not fail: %v", err)
	}
	if svc.batchCalls != 0 {
		t.Fatalf("empty commit must not hit the network, got %d calls", svc.batchCalls)
	}
	if len(store.Transactions()) != 1 || len(store.Committed()) != 1 {
		t.Fatalf("empty commit changed collections: %+v", store.Snapshot())
	}
}

func TestCommitSuccess(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, pub := newTestController(svc)
	ctx := context.Background()

	a := txnA() // 2024-03-01, 12.50
	b := txnB() // 2024-03-02, 7.00
	store.Dispatch(SetTransactions{List: []core.Transaction{a, b, txnC()}})
	ctrl.Toggle(ctx, a)
	ctrl.Toggle(ctx, b)

	if err := ctrl.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if len(store.Selection()) != 0 {
		t.Fatalf("selection should be empty after commit")
	}
	committed := keysOf(store.Committed())
	if len(committed) != 2 {
		t.Fatalf("expected 2 committed, got %d", len(committed))
	}
	for _, txn := range []core.Transaction{a, b} {
		if _, ok := committed[txn.Key()]; !ok {
			t.Fatalf("committed log missing %q", txn.Key())
		}
	}
	for k := range keysOf(store.Transactions()) {
		if _, ok := committed[k]; ok {
			t.Fatalf("committed key %q still in the staged list", k)
		}
	}
	if got := store.ThisMonthTotal(testNow); got.Cents != 1950 {
		t.Fatalf("expected this-month total 19.50, got %s", got)
	}
	if svc.batchCalls != 1 {
		t.Fatalf("expected exactly one batch save, got %d", svc.batchCalls)
	}
	if len(pub.committed) != 1 || len(pub.committed[0]) != 2 {
		t.Fatalf("expected one committed event with 2 ids, got %+v", pub.committed)
	}
	if a := store.Analytics(); a.Weekly == nil || a.Summary == nil {
		t.Fatalf("analytics should refresh after commit")
	}
	if store.LastError() != "" {
		t.Fatalf("unexpected error: %s", store.LastError())
	}
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	svc := &fakeService{batchErr: errors.New("backend down")}
	ctrl, store, _, pub := newTestController(svc)
	ctx := context.Background()

	store.Dispatch(SetTransactions{List: []core.Transaction{txnA(), txnB()}})
	ctrl.Toggle(ctx, txnA())

	beforeSelection := keysOf(store.Selection())
	beforeStaged := keysOf(store.Transactions())

	err := ctrl.Commit(ctx)
	if err == nil {
		t.Fatalf("expected commit error")
	}
	if !errors.Is(err, svc.batchErr) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}

	afterSelection := keysOf(store.Selection())
	afterStaged := keysOf(store.Transactions())
	if len(afterSelection) != len(beforeSelection) || len(afterStaged) != len(beforeStaged) {
		t.Fatalf("failed commit changed state")
	}
	for k := range beforeSelection {
		if _, ok := afterSelection[k]; !ok {
			t.Fatalf("failed commit lost selection key %q", k)
		}
	}
	if store.LastError() == "" {
		t.Fatalf("failed commit should record the error")
	}
	if svc.analyticsCalls != 0 || len(pub.committed) != 0 {
		t.Fatalf("failed commit should not refresh analytics or publish")
	}
}

func TestToggleMonthRolloverClearsSelection(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, period, _ := newTestController(svc)
	ctx := context.Background()

	period.value = "2024-02" // stale marker from last month
	store.Dispatch(SetSelection{List: []core.Transaction{txnA(), txnB()}})

	ctrl.Toggle(ctx, txnC())

	selection := store.Selection()
	if len(selection) != 1 || selection[0].Key() != txnC().Key() {
		t.Fatalf("rollover should clear the old selection first, got %+v", selection)
	}
	if period.value != "2024-03" {
		t.Fatalf("expected marker updated to 2024-03, got %q", period.value)
	}
}

func TestToggleSamePeriodKeepsSelection(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, _ := newTestController(svc)
	ctx := context.Background()

	store.Dispatch(SetSelection{List: []core.Transaction{txnA()}})
	ctrl.Toggle(ctx, txnB())

	if len(store.Selection()) != 2 {
		t.Fatalf("expected both selected, got %+v", store.Selection())
	}
}

func TestTogglePeriodReadFailureStillToggles(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, period, _ := newTestController(svc)
	period.getErr = errors.New("disk gone")

	ctrl.Toggle(context.Background(), txnA())
	if len(store.Selection()) != 1 {
		t.Fatalf("toggle should survive a period-store failure")
	}
}

func TestUploadBatch(t *testing.T) {
	a := txnA()
	svc := &fakeService{uploads: map[string]uploadResult{
		"good.pdf": {txns: []core.Transaction{a}},
		"bad.jpg":  {err: errors.New("parse failed")},
	}}
	ctrl, store, _, _ := newTestController(svc)

	// A fresh batch replaces prior unreviewed candidates.
	store.Dispatch(SetTransactions{List: []core.Transaction{txnB()}})

	ctrl.Upload(context.Background(), []File{
		{Name: "good.pdf"},
		{Name: "bad.jpg"},
	})

	uploads := store.Uploads()
	if len(uploads) != 2 {
		t.Fatalf("expected 2 upload entries, got %d", len(uploads))
	}
	if uploads[0].Name != "good.pdf" || uploads[0].Status != core.UploadSuccess || uploads[0].Error != "" {
		t.Fatalf("unexpected first entry: %+v", uploads[0])
	}
	if uploads[1].Name != "bad.jpg" || uploads[1].Status != core.UploadError || uploads[1].Error != "parse failed" {
		t.Fatalf("unexpected second entry: %+v", uploads[1])
	}

	staged := store.Transactions()
	if len(staged) != 1 || staged[0].Key() != a.Key() {
		t.Fatalf("staged list should hold only the successful extraction, got %+v", staged)
	}
}

func TestUploadWithoutExtractionsKeepsStagedList(t *testing.T) {
	svc := &fakeService{uploads: map[string]uploadResult{
		"bad.jpg": {err: errors.New("parse failed")},
	}}
	ctrl, store, _, _ := newTestController(svc)
	store.Dispatch(SetTransactions{List: []core.Transaction{txnB()}})

	ctrl.Upload(context.Background(), []File{{Name: "bad.jpg"}})

	if len(store.Transactions()) != 1 {
		t.Fatalf("an all-failed batch must not clear the staged list")
	}
}

func TestUploadDroppedAfterReset(t *testing.T) {
	a := txnA()
	svc := &fakeService{uploads: map[string]uploadResult{
		"good.pdf": {txns: []core.Transaction{a}},
	}}
	ctrl, store, _, _ := newTestController(svc)
	ctx := context.Background()

	// The session resets (logout) while the file is in flight.
	svc.uploadHook = func(string) { ctrl.Reset(ctx) }

	ctrl.Upload(ctx, []File{{Name: "good.pdf"}})

	if len(store.Transactions()) != 0 {
		t.Fatalf("stale upload results must not resurrect cleared state")
	}
	if len(store.Uploads()) != 0 {
		t.Fatalf("upload log should stay empty after the purge, got %+v", store.Uploads())
	}
}

func TestCommitDroppedAfterReset(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, pub := newTestController(svc)
	ctx := context.Background()

	store.Dispatch(SetTransactions{List: []core.Transaction{txnA(), txnB()}})
	ctrl.Toggle(ctx, txnA())

	// The session resets (logout) while the save is in flight.
	svc.batchHook = func() { ctrl.Reset(ctx) }

	if err := ctrl.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(store.Committed()) != 0 {
		t.Fatalf("stale commit result resurrected the committed log: %+v", store.Committed())
	}
	if len(store.Transactions()) != 0 || len(store.Selection()) != 0 {
		t.Fatalf("stale commit result resurrected session data")
	}
	if svc.analyticsCalls != 0 || len(pub.committed) != 0 {
		t.Fatalf("stale commit must not refresh analytics or publish")
	}
}

func TestRestoreDroppedAfterReset(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, pub := newTestController(svc)
	ctx := context.Background()

	store.Dispatch(AddDeleted{List: []core.Transaction{txnC()}})

	// The session resets (logout) while the create is in flight.
	svc.createHook = func() { ctrl.Reset(ctx) }

	if err := ctrl.Restore(ctx, 0); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(store.Selection()) != 0 {
		t.Fatalf("stale restore result re-entered the selection: %+v", store.Selection())
	}
	if len(store.Deleted()) != 0 {
		t.Fatalf("deleted log should stay empty after the purge, got %+v", store.Deleted())
	}
	if len(pub.restored) != 0 {
		t.Fatalf("stale restore must not publish")
	}
}

func TestDeleteOneRequiresPersistedID(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, _ := newTestController(svc)

	err := ctrl.DeleteOne(context.Background(), txnA())
	if !errors.Is(err, core.ErrNotPersisted) {
		t.Fatalf("expected ErrNotPersisted, got %v", err)
	}
	if len(svc.deleteCalls) != 0 {
		t.Fatalf("guarded delete must not hit the network")
	}
	if len(store.Deleted()) != 0 {
		t.Fatalf("guarded delete must not shadow-log")
	}
}

func TestDeleteOneFailureKeepsShadow(t *testing.T) {
	svc := &fakeService{deleteErr: errors.New("backend down")}
	ctrl, store, _, _ := newTestController(svc)
	ctx := context.Background()

	c := txnC() // id:42
	store.Dispatch(
		SetTransactions{List: []core.Transaction{txnA(), c}},
		SetSelection{List: []core.Transaction{c}},
	)

	if err := ctrl.DeleteOne(ctx, c); err != nil {
		t.Fatalf("delete failures are swallowed after shadow-logging, got %v", err)
	}

	shadows := store.Deleted()
	if len(shadows) != 1 || shadows[0].Key() != c.Key() {
		t.Fatalf("expected a shadow copy of C, got %+v", shadows)
	}
	if len(store.Selection()) != 1 || len(store.Transactions()) != 2 {
		t.Fatalf("failed delete must leave selection and staged list untouched")
	}
	if store.LastError() == "" {
		t.Fatalf("failed delete should record the error")
	}
}

func TestDeleteOneSuccess(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, pub := newTestController(svc)
	ctx := context.Background()

	c := txnC()
	store.Dispatch(
		SetTransactions{List: []core.Transaction{txnA(), c}},
		SetSelection{List: []core.Transaction{c}},
	)

	if err := ctrl.DeleteOne(ctx, c); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(svc.deleteCalls) != 1 || svc.deleteCalls[0] != 42 {
		t.Fatalf("expected delete call for id 42, got %v", svc.deleteCalls)
	}
	if store.SelectionContains(c.Key()) {
		t.Fatalf("deleted record still selected")
	}
	if _, ok := keysOf(store.Transactions())[c.Key()]; ok {
		t.Fatalf("deleted record still staged")
	}
	if len(store.Deleted()) != 1 {
		t.Fatalf("shadow entry should remain until dismissed or restored")
	}
	if len(pub.deleted) != 1 || pub.deleted[0] != 42 {
		t.Fatalf("expected deleted event for id 42, got %v", pub.deleted)
	}
}

func TestRestoreSuccess(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, pub := newTestController(svc)
	ctx := context.Background()

	store.Dispatch(AddDeleted{List: []core.Transaction{txnC()}})

	if err := ctrl.Restore(ctx, 0); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(store.Deleted()) != 0 {
		t.Fatalf("restored shadow should be removed")
	}
	selection := store.Selection()
	if len(selection) != 1 || !selection[0].ID.Valid {
		t.Fatalf("restored record should join the selection with its new id, got %+v", selection)
	}
	if len(pub.restored) != 1 {
		t.Fatalf("expected restored event, got %v", pub.restored)
	}
}

func TestRestoreFailureKeepsShadow(t *testing.T) {
	svc := &fakeService{createErr: errors.New("backend down")}
	ctrl, store, _, _ := newTestController(svc)

	store.Dispatch(AddDeleted{List: []core.Transaction{txnC()}})

	if err := ctrl.Restore(context.Background(), 0); err == nil {
		t.Fatalf("expected restore error")
	}
	if len(store.Deleted()) != 1 {
		t.Fatalf("failed restore must keep the shadow entry")
	}
	if store.LastError() != "" {
		t.Fatalf("restore failures are silent, got error %q", store.LastError())
	}
}

func TestRestoreBadIndex(t *testing.T) {
	svc := &fakeService{}
	ctrl, _, _, _ := newTestController(svc)
	if err := ctrl.Restore(context.Background(), 3); err == nil {
		t.Fatalf("expected error for missing shadow index")
	}
}

func TestResetPurgesSession(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, period, _ := newTestController(svc)
	ctx := context.Background()

	store.Dispatch(
		SetTransactions{List: []core.Transaction{txnA()}},
		SetSelection{List: []core.Transaction{txnB()}},
		CommitSelection{List: []core.Transaction{txnC()}},
		AddDeleted{List: []core.Transaction{txnC()}},
		AddUploadItems{Items: []UploadItem{{Name: "a.pdf", Status: core.UploadSuccess}}},
		SetAnalytics{Patch: Analytics{Weekly: json.RawMessage(`{}`)}},
		SetError{Message: "boom"},
	)

	ctrl.Reset(ctx)

	s := store.Snapshot()
	if len(s.Transactions)+len(s.Selection)+len(s.Committed)+len(s.Deleted)+len(s.Uploads) != 0 {
		t.Fatalf("reset left session data behind: %+v", s)
	}
	if s.Analytics.Weekly != nil || s.LastError != "" {
		t.Fatalf("reset left analytics or error behind")
	}
	if !period.cleared {
		t.Fatalf("reset should drop the period marker")
	}
}

func TestLoadTransactions(t *testing.T) {
	svc := &fakeService{listResult: []core.Transaction{txnC()}}
	ctrl, store, _, _ := newTestController(svc)

	ctrl.LoadTransactions(context.Background())
	if len(store.Transactions()) != 1 {
		t.Fatalf("expected backend records staged, got %+v", store.Transactions())
	}
	if store.Loading() {
		t.Fatalf("loading flag should drop once the list lands")
	}
}

func TestLoadTransactionsFailureRecordsError(t *testing.T) {
	svc := &fakeService{listErr: errors.New("backend down")}
	ctrl, store, _, _ := newTestController(svc)

	ctrl.LoadTransactions(context.Background())
	if store.LastError() == "" {
		t.Fatalf("read failure should be recorded")
	}
	if len(store.Transactions()) != 0 {
		t.Fatalf("read failure should leave the staged list empty")
	}
}

func TestLoadForEditMergesWithoutDuplicates(t *testing.T) {
	a := txnA()
	svc := &fakeService{listResult: []core.Transaction{a, txnC()}}
	ctrl, store, _, _ := newTestController(svc)
	store.Dispatch(SetSelection{List: []core.Transaction{a}})

	if err := ctrl.LoadForEdit(context.Background()); err != nil {
		t.Fatalf("load for edit: %v", err)
	}
	if len(store.Selection()) != 2 {
		t.Fatalf("expected merged selection of 2, got %+v", store.Selection())
	}

	ctrl.CloseEdit()
	if len(store.Selection()) != 0 {
		t.Fatalf("closing edit should release the selection")
	}
}

func TestClearAll(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, _ := newTestController(svc)
	store.Dispatch(
		SetTransactions{List: []core.Transaction{txnA()}},
		CommitSelection{List: []core.Transaction{txnC()}},
	)

	if err := ctrl.ClearAll(context.Background()); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if len(store.Transactions()) != 0 || len(store.Committed()) != 0 {
		t.Fatalf("clear all should drop staged and committed records")
	}
}

func TestClearAllFailure(t *testing.T) {
	svc := &fakeService{deleteAllErr: errors.New("backend down")}
	ctrl, store, _, _ := newTestController(svc)
	store.Dispatch(SetTransactions{List: []core.Transaction{txnA()}})

	if err := ctrl.ClearAll(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if len(store.Transactions()) != 1 {
		t.Fatalf("failed clear must leave the staged list")
	}
}

func TestRefreshAnalyticsFailure(t *testing.T) {
	svc := &fakeService{analyticsErr: errors.New("backend down")}
	ctrl, store, _, _ := newTestController(svc)

	ctrl.RefreshAnalytics(context.Background())
	if store.LastError() == "" {
		t.Fatalf("analytics failure should be recorded")
	}
	if a := store.Analytics(); a.Weekly != nil || a.Summary != nil {
		t.Fatalf("failed refresh must not touch the cache")
	}
}

func TestLoadCalendarMergesOnlyCalendar(t *testing.T) {
	svc := &fakeService{}
	ctrl, store, _, _ := newTestController(svc)
	store.Dispatch(SetAnalytics{Patch: Analytics{Weekly: json.RawMessage(`{"w":1}`)}})

	ctrl.LoadCalendar(context.Background(), 2024, 3)

	a := store.Analytics()
	if a.Calendar == nil {
		t.Fatalf("calendar payload missing")
	}
	if string(a.Weekly) != `{"w":1}` {
		t.Fatalf("calendar refresh must not clobber other fields")
	}
}
