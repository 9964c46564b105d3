package session

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"
)

// MaxSessions bounds the saved-session index.
const MaxSessions = 5

// Record is the persisted snapshot of a saved session.
type Record struct {
	ID         string    `json:"id"`
	SavedAt    time.Time `json:"saved_at"`
	WorkingDir string    `json:"working_directory,omitempty"`
	Title      string    `json:"title,omitempty"`
}

type indexDocument struct {
	Sessions []Record `json:"sessions"`
}

// Index persists the most recent saved sessions as a small JSON document,
// most-recent-first. It is the sole durable state of this subsystem: it
// never returns read errors (a broken or missing file reads as empty) and
// write errors are logged and swallowed, so a failing disk can cost
// resumability but never a response.
type Index struct {
	path string
}

// NewIndex creates an index backed by the given file path.
func NewIndex(path string) *Index {
	return &Index{path: path}
}

// DefaultIndexPath returns the well-known index location under the user
// config dir.
func DefaultIndexPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "relay", "sessions.json"), nil
}

// Load reads all records, most-recent-first. Fails soft: any read or parse
// problem yields an empty list.
func (ix *Index) Load() []Record {
	data, err := os.ReadFile(ix.path)
	if err != nil || len(data) == 0 {
		return nil
	}
	var doc indexDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Printf("⚠️  session index unreadable, treating as empty: %v", err)
		return nil
	}
	return doc.Sessions
}

// Upsert inserts or refreshes a record. The record always moves to the
// front (insertion order is recency), any older record with the same id is
// dropped, and the list is truncated to MaxSessions before persisting.
func (ix *Index) Upsert(rec Record) {
	records := ix.Load()

	kept := make([]Record, 0, len(records)+1)
	kept = append(kept, rec)
	for _, r := range records {
		if r.ID == rec.ID {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) > MaxSessions {
		kept = kept[:MaxSessions]
	}

	if err := ix.persist(kept); err != nil {
		log.Printf("⚠️  failed to persist session index: %v", err)
	}
}

// ListForDir returns records for a working directory, front-to-back.
// Records with no recorded directory predate directory scoping and match
// every directory.
func (ix *Index) ListForDir(dir string) []Record {
	var out []Record
	for _, r := range ix.Load() {
		if r.WorkingDir == "" || r.WorkingDir == dir {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the record with the given id, or nil.
func (ix *Index) Find(id string) *Record {
	for _, r := range ix.Load() {
		if r.ID == id {
			rec := r
			return &rec
		}
	}
	return nil
}

func (ix *Index) persist(records []Record) error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(indexDocument{Sessions: records}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(ix.path, data, 0644)
}
