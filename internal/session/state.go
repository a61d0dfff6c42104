package session

import (
	"encoding/json"

	"receiptbox/internal/core"
)

// State is everything the session holds between transitions: staged
// transactions from uploads, the curated "My Items" selection, the
// committed-this-session log, session-only deleted shadows, the upload
// progress log, the analytics cache and request bookkeeping.
type State struct {
	Transactions []core.Transaction // extracted candidates, not yet persisted
	Selection    []core.Transaction // "My Items", pending commit
	Committed    []core.Transaction // persisted via this session's commit
	Deleted      []core.Transaction // shadows of server-side deletes
	Uploads      []UploadItem
	Analytics    Analytics
	Loading      bool
	LastError    string
	Month        int
	Year         int
}

// UploadItem tracks one file of an upload batch. Entries are appended in
// submission order and never reordered, so the index stays a stable
// address for status updates.
type UploadItem struct {
	Name   string
	Status core.UploadStatus
	Error  string
}

// Analytics caches opaque backend payloads per endpoint. The session
// never interprets their contents. A zero field means "not loaded".
type Analytics struct {
	Weekly            json.RawMessage
	Monthly           json.RawMessage
	Categories        json.RawMessage
	CategoriesByMonth json.RawMessage
	ByMonth           json.RawMessage
	Calendar          json.RawMessage
	Summary           json.RawMessage
}

// Action is one state transition request. apply treats unknown kinds as
// no-ops so the transition function stays total.
type Action interface{ action() }

type (
	SetLoading struct{ Loading bool }
	SetError   struct{ Message string }
	ClearError struct{}

	// SetTransactions replaces the extracted list wholesale.
	SetTransactions struct{ List []core.Transaction }
	// AddTransactions appends records whose key is not already staged.
	AddTransactions struct{ List []core.Transaction }

	// SetAnalytics shallow-merges the non-nil fields of Patch into the
	// analytics cache, supporting independent partial refreshes.
	SetAnalytics struct{ Patch Analytics }

	AddUploadItems struct{ Items []UploadItem }
	// UpdateUploadItem patches the entry at Index; empty fields are left
	// untouched. Out-of-range indexes are ignored.
	UpdateUploadItem struct {
		Index  int
		Status core.UploadStatus
		Error  string
	}
	ClearUploads struct{}

	AddDeleted    struct{ List []core.Transaction }
	RemoveDeleted struct{ Index int }
	ClearDeleted  struct{}

	SetSelection struct{ List []core.Transaction }
	// ToggleSelection removes the record whose key matches Txn, or
	// appends Txn when no such key is selected (last-toggled-in wins).
	ToggleSelection struct{ Txn core.Transaction }
	ClearSelection  struct{}

	// CommitSelection sets the committed-this-session log and clears the
	// selection in one transition.
	CommitSelection struct{ List []core.Transaction }

	SetCalendarPeriod struct{ Month, Year int }

	// Reset is the logout purge: every collection, the analytics cache,
	// the error field and the loading flag go back to zero. The calendar
	// period survives.
	Reset struct{}
)

func (SetLoading) action()        {}
func (SetError) action()          {}
func (ClearError) action()        {}
func (SetTransactions) action()   {}
func (AddTransactions) action()   {}
func (SetAnalytics) action()      {}
func (AddUploadItems) action()    {}
func (UpdateUploadItem) action()  {}
func (ClearUploads) action()      {}
func (AddDeleted) action()        {}
func (RemoveDeleted) action()     {}
func (ClearDeleted) action()      {}
func (SetSelection) action()      {}
func (ToggleSelection) action()   {}
func (ClearSelection) action()    {}
func (CommitSelection) action()   {}
func (SetCalendarPeriod) action() {}
func (Reset) action()             {}

// apply is the transition function: pure, total, no I/O. Slices are
// copied on write so a returned State never aliases mutable storage of
// its predecessor.
func apply(s State, a Action) State {
	switch a := a.(type) {
	case SetLoading:
		s.Loading = a.Loading
	case SetError:
		s.LastError = a.Message
		s.Loading = false
	case ClearError:
		s.LastError = ""
	case SetTransactions:
		s.Transactions = dedupeByKey(a.List)
		s.Loading = false
	case AddTransactions:
		s.Transactions = appendMissing(s.Transactions, a.List)
	case SetAnalytics:
		s.Analytics = mergeAnalytics(s.Analytics, a.Patch)
	case AddUploadItems:
		items := make([]UploadItem, 0, len(s.Uploads)+len(a.Items))
		items = append(items, s.Uploads...)
		s.Uploads = append(items, a.Items...)
	case UpdateUploadItem:
		if a.Index < 0 || a.Index >= len(s.Uploads) {
			break
		}
		items := append([]UploadItem(nil), s.Uploads...)
		if a.Status != "" {
			items[a.Index].Status = a.Status
		}
		if a.Error != "" {
			items[a.Index].Error = a.Error
		}
		s.Uploads = items
	case ClearUploads:
		s.Uploads = nil
	case AddDeleted:
		s.Deleted = appendMissing(s.Deleted, a.List)
	case RemoveDeleted:
		if a.Index < 0 || a.Index >= len(s.Deleted) {
			break
		}
		out := make([]core.Transaction, 0, len(s.Deleted)-1)
		out = append(out, s.Deleted[:a.Index]...)
		s.Deleted = append(out, s.Deleted[a.Index+1:]...)
	case ClearDeleted:
		s.Deleted = nil
	case SetSelection:
		s.Selection = dedupeByKey(a.List)
	case ToggleSelection:
		s.Selection = toggleByKey(s.Selection, a.Txn)
	case ClearSelection:
		s.Selection = nil
	case CommitSelection:
		s.Committed = append([]core.Transaction(nil), a.List...)
		s.Selection = nil
	case SetCalendarPeriod:
		s.Month, s.Year = a.Month, a.Year
	case Reset:
		s = State{Month: s.Month, Year: s.Year}
	default:
		// Unknown action kinds are no-ops.
	}
	return s
}

func mergeAnalytics(dst, patch Analytics) Analytics {
	if patch.Weekly != nil {
		dst.Weekly = patch.Weekly
	}
	if patch.Monthly != nil {
		dst.Monthly = patch.Monthly
	}
	if patch.Categories != nil {
		dst.Categories = patch.Categories
	}
	if patch.CategoriesByMonth != nil {
		dst.CategoriesByMonth = patch.CategoriesByMonth
	}
	if patch.ByMonth != nil {
		dst.ByMonth = patch.ByMonth
	}
	if patch.Calendar != nil {
		dst.Calendar = patch.Calendar
	}
	if patch.Summary != nil {
		dst.Summary = patch.Summary
	}
	return dst
}

// dedupeByKey copies in, dropping records whose key was already seen.
// Every collection keeps at most one record per key.
func dedupeByKey(in []core.Transaction) []core.Transaction {
	if in == nil {
		return nil
	}
	seen := make(map[core.Key]struct{}, len(in))
	out := make([]core.Transaction, 0, len(in))
	for _, txn := range in {
		k := txn.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, txn)
	}
	return out
}

func appendMissing(existing, add []core.Transaction) []core.Transaction {
	seen := make(map[core.Key]struct{}, len(existing))
	out := make([]core.Transaction, 0, len(existing)+len(add))
	for _, txn := range existing {
		seen[txn.Key()] = struct{}{}
		out = append(out, txn)
	}
	for _, txn := range add {
		k := txn.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, txn)
	}
	return out
}

func toggleByKey(selection []core.Transaction, txn core.Transaction) []core.Transaction {
	k := txn.Key()
	for i, cur := range selection {
		if cur.Key() != k {
			continue
		}
		out := make([]core.Transaction, 0, len(selection)-1)
		out = append(out, selection[:i]...)
		return append(out, selection[i+1:]...)
	}
	out := make([]core.Transaction, 0, len(selection)+1)
	out = append(out, selection...)
	return append(out, txn)
}
