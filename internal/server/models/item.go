package models

import (
	"encoding/json"
	"time"
)

// Item is one entity record within a user's section.
//
// Data holds the canonical fields the server recognizes for the section;
// Extra is the extension bag, any client-supplied field outside the
// canonical set, persisted and replayed verbatim. RowID is the server-side
// sequence used as the pagination tie-break.
type Item struct {
	RowID     int64
	UserID    string
	Section   Section
	ItemID    string
	Data      map[string]json.RawMessage
	Extra     map[string]json.RawMessage
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Flatten merges canonical fields and the extension bag back into the single
// flat object the client sees. The server-stamped updatedAt always wins over
// any client-declared copy in Data.
func (i *Item) Flatten() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(i.Data)+len(i.Extra)+2)
	for k, v := range i.Data {
		out[k] = v
	}
	for k, v := range i.Extra {
		out[k] = v
	}
	out["id"] = mustJSON(i.ItemID)
	out["updatedAt"] = mustJSON(i.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return out
}

// DeclaredUpdatedAt extracts the client-declared updatedAt from canonical
// data, if present and well-formed.
func (i *Item) DeclaredUpdatedAt() (time.Time, bool) {
	return timeField(i.Data, "updatedAt")
}

func timeField(m map[string]json.RawMessage, key string) (time.Time, bool) {
	raw, ok := m[key]
	if !ok {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		ts, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
