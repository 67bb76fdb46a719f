package changefeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeInsert    Type = "insert"
	TypeUpdate    Type = "update"
	TypeHeartbeat Type = "heartbeat"
)

const (
	TableCheckIns      = "check_ins"
	TableCoupons       = "coupons"
	TableUserSpins     = "user_spins"
	TableStreakRecords = "streak_records"
)

// UserTables are the tables a user session subscribes to.
var UserTables = []string{TableCheckIns, TableCoupons, TableUserSpins, TableStreakRecords}

// Row is a decoded column map. Values follow encoding/json decoding rules.
type Row map[string]any

func RowOf(v any) Row {
	if v == nil {
		return nil
	}
	if r, ok := v.(Row); ok {
		return r
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var r Row
	if err := json.Unmarshal(b, &r); err != nil {
		return nil
	}
	return r
}

func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v == "true" || v == "t" || v == "1"
	default:
		return false
	}
}

type ChangeEvent struct {
	ID          string    `json:"id"`
	Schema      string    `json:"schema"`
	Table       string    `json:"table"`
	Type        Type      `json:"type"`
	UserID      string    `json:"user_id,omitempty"`
	Old         Row       `json:"old,omitempty"`
	New         Row       `json:"new,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// RowID is the primary key of the changed row.
func (e ChangeEvent) RowID() string {
	if id := e.New.String("id"); id != "" {
		return id
	}
	return e.Old.String("id")
}

func NewInsert(table, userID string, row any) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.NewString(),
		Table:       table,
		Type:        TypeInsert,
		UserID:      userID,
		New:         RowOf(row),
		CommittedAt: time.Now().UTC(),
	}
}

func NewUpdate(table, userID string, old, new any) ChangeEvent {
	return ChangeEvent{
		ID:          uuid.NewString(),
		Table:       table,
		Type:        TypeUpdate,
		UserID:      userID,
		Old:         RowOf(old),
		New:         RowOf(new),
		CommittedAt: time.Now().UTC(),
	}
}

func NewHeartbeat() ChangeEvent {
	return ChangeEvent{
		ID:          uuid.NewString(),
		Type:        TypeHeartbeat,
		CommittedAt: time.Now().UTC(),
	}
}

// Filter is evaluated by the feed so subscribers only see their own rows.
type Filter struct {
	Schema string
	Tables []string
	UserID string
}

func (f Filter) Match(e ChangeEvent) bool {
	if e.Type == TypeHeartbeat {
		return true
	}
	if f.Schema != "" && e.Schema != "" && f.Schema != e.Schema {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == e.Table {
			return true
		}
	}
	return false
}
