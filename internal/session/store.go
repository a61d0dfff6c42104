package session

import (
	"sync"
	"time"

	"receiptbox/internal/core"
)

// Store serializes transitions over the session State and derives the
// read-only views. All views are recomputed per read from the current
// state, never stored.
type Store struct {
	mu    sync.Mutex
	state State
	gen   uint64
}

// NewStore seeds the calendar period from the given time.
func NewStore(now time.Time) *Store {
	return &Store{state: State{Month: int(now.Month()), Year: now.Year()}}
}

// Dispatch applies the actions in order under one lock acquisition. A
// Reset advances the generation so results of network calls issued
// before the reset can be recognized as stale and dropped.
func (st *Store) Dispatch(actions ...Action) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, a := range actions {
		if _, ok := a.(Reset); ok {
			st.gen++
		}
		st.state = apply(st.state, a)
	}
}

// Generation returns the current session generation.
func (st *Store) Generation() uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// Snapshot returns a copy of the full state. Slices are copied so the
// caller can hold the snapshot across further transitions.
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.state
	s.Transactions = append([]core.Transaction(nil), s.Transactions...)
	s.Selection = append([]core.Transaction(nil), s.Selection...)
	s.Committed = append([]core.Transaction(nil), s.Committed...)
	s.Deleted = append([]core.Transaction(nil), s.Deleted...)
	s.Uploads = append([]UploadItem(nil), s.Uploads...)
	return s
}

// VisibleTransactions is the extracted list minus anything currently
// selected, so a record never shows up in both the raw list and
// "My Items" at the same time.
func (st *Store) VisibleTransactions() []core.Transaction {
	st.mu.Lock()
	defer st.mu.Unlock()
	selected := make(map[core.Key]struct{}, len(st.state.Selection))
	for _, txn := range st.state.Selection {
		selected[txn.Key()] = struct{}{}
	}
	out := make([]core.Transaction, 0, len(st.state.Transactions))
	for _, txn := range st.state.Transactions {
		if _, ok := selected[txn.Key()]; ok {
			continue
		}
		out = append(out, txn)
	}
	return out
}

func (st *Store) Transactions() []core.Transaction {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]core.Transaction(nil), st.state.Transactions...)
}

func (st *Store) Selection() []core.Transaction {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]core.Transaction(nil), st.state.Selection...)
}

func (st *Store) Committed() []core.Transaction {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]core.Transaction(nil), st.state.Committed...)
}

func (st *Store) Deleted() []core.Transaction {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]core.Transaction(nil), st.state.Deleted...)
}

func (st *Store) Uploads() []UploadItem {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]UploadItem(nil), st.state.Uploads...)
}

func (st *Store) Analytics() Analytics {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Analytics
}

func (st *Store) LastError() string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.LastError
}

func (st *Store) Loading() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Loading
}

// Period returns the calendar month and year shown by the UI.
func (st *Store) Period() (month, year int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state.Month, st.state.Year
}

// SelectionContains reports whether a record with the given key is in
// the curated selection.
func (st *Store) SelectionContains(k core.Key) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, txn := range st.state.Selection {
		if txn.Key() == k {
			return true
		}
	}
	return false
}

// SelectionTotal sums the amounts of the curated selection.
func (st *Store) SelectionTotal() core.Money {
	st.mu.Lock()
	defer st.mu.Unlock()
	var cents int64
	for _, txn := range st.state.Selection {
		cents += txn.Amount.Cents
	}
	return core.Money{Cents: cents}
}

// ThisMonthTotal sums the committed-this-session log over the calendar
// month of now. The committed log is session-scoped bookkeeping; the
// backend store stays authoritative.
func (st *Store) ThisMonthTotal(now time.Time) core.Money {
	st.mu.Lock()
	defer st.mu.Unlock()
	var cents int64
	for _, txn := range st.state.Committed {
		if txn.Date.In(now.Year(), now.Month()) {
			cents += txn.Amount.Cents
		}
	}
	return core.Money{Cents: cents}
}
