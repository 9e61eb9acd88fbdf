package models

import (
	"encoding/json"
	"time"
)

// BackupVersion is the exact-match literal checked before any import
// processing begins.
const BackupVersion = "1.0"

// ImportMode selects how an imported backup is reconciled with existing
// account data.
type ImportMode string

const (
	// ImportModeReplace wipes each section before inserting imported rows.
	ImportModeReplace ImportMode = "replace"
	// ImportModeMerge upserts by item id; the import always wins.
	ImportModeMerge ImportMode = "merge"
)

// Valid reports whether m is a known import mode.
func (m ImportMode) Valid() bool {
	return m == ImportModeReplace || m == ImportModeMerge
}

// Backup is the versioned whole-account export document. Data maps section
// names to their serialized contents: an array of flat item objects for
// entity sections, and the raw stored document for KV sections.
type Backup struct {
	Version    string                     `json:"version"`
	ExportedAt time.Time                  `json:"exportedAt"`
	Data       map[Section]json.RawMessage `json:"data"`
}
