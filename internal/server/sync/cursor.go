package sync

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/larderapp/larder/internal/common"
)

// Cursor is the decoded pagination token: the sort key of the last row the
// client has seen. Pages are ordered by (updatedAt, id) ascending, so the
// pair defines a total order and cursors stay valid under concurrent writes.
type Cursor struct {
	UpdatedAt time.Time `json:"updatedAt"`
	ID        int64     `json:"id"`
}

// Encode renders the cursor as base64url(JSON{updatedAt, id}).
func (c Cursor) Encode() string {
	b, err := json.Marshal(c)
	if err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a client-supplied token. Malformed tokens yield
// common.ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", common.ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", common.ErrInvalidCursor, err)
	}
	if c.UpdatedAt.IsZero() || c.ID < 0 {
		return Cursor{}, fmt.Errorf("%w: incomplete token", common.ErrInvalidCursor)
	}
	return c, nil
}
