// Package core holds the session's domain value objects. The backend
// speaks decimal dollars and ISO dates on the wire; internally all
// arithmetic happens on signed cents and identity is the Key.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadSuccess   UploadStatus = "success"
	UploadError     UploadStatus = "error"
)

// SourceManualRestore tags transactions recreated from the session's
// deleted-shadow log.
const SourceManualRestore = "manual_restore"

const dateLayout = "2006-01-02"

type (
	UploadStatus string

	Date struct {
		time.Time
	}

	// TxnID tags a transaction as persisted (Valid) or unsaved. Freshly
	// extracted candidates and session-only shadows carry an invalid id;
	// only the backend assigns valid ones.
	TxnID struct {
		Int64 int64
		Valid bool
	}

	// Transaction is an immutable value object; changes replace the record.
	Transaction struct {
		ID          TxnID  `json:"id"`
		Date        Date   `json:"date"`
		Description string `json:"description"`
		Category    string `json:"category,omitempty"`
		Amount      Money  `json:"amount"`
		Source      string `json:"source,omitempty"`
	}

	// Key addresses a transaction across every session collection: the
	// persisted id when one exists, else the (date, description, amount)
	// tuple. It is the sole equality basis for membership and removal.
	Key string
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrNotPersisted     = errors.New("transaction has no persisted id")
)

// PersistedID returns a valid id.
func PersistedID(id int64) TxnID {
	return TxnID{Int64: id, Valid: true}
}

func (id TxnID) MarshalJSON() ([]byte, error) {
	if !id.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(id.Int64)
}

func (id *TxnID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		*id = TxnID{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parse transaction id: %w", err)
	}
	*id = TxnID{Int64: v, Valid: true}
	return nil
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses the wire format "2006-01-02".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date: %w", err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// In reports whether the date falls in the given calendar year and month.
func (d Date) In(year int, month time.Month) bool {
	return d.Year() == year && d.Month() == month
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse date: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t Transaction) Key() Key {
	if t.ID.Valid {
		return Key(fmt.Sprintf("id:%d", t.ID.Int64))
	}
	return Key(fmt.Sprintf("%s|%s|%d", t.Date.String(), t.Description, t.Amount.Cents))
}

func (t Transaction) Validate() error {
	if t.Date.IsZero() {
		return errors.New("date cannot be zero")
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}
