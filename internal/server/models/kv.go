package models

import (
	"encoding/json"
	"time"
)

// KVRecord is one opaque JSON document for a (user, section) pair.
type KVRecord struct {
	UserID    string
	Section   Section
	Value     json.RawMessage
	UpdatedAt time.Time
}
