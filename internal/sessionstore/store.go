// Package sessionstore persists upload session state so a transfer can be
// resumed across process restarts, and stores downloaded transcript results.
package sessionstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clipscribe/clipscribe/pkg/chunk"
)

// ErrNotFound indicates no persisted record exists for the key.
var ErrNotFound = errors.New("sessionstore: record not found")

// recordExtension is the session record file extension.
const recordExtension = ".json"

// Record is the durable state of one upload session: enough to resume from
// any Acked/Pending mix after a restart.
type Record struct {
	SessionID string        `json:"session_id"`
	Checksum  string        `json:"checksum"`
	FileSize  int64         `json:"file_size"`
	ChunkSize int64         `json:"chunk_size"`
	Chunks    []chunk.State `json:"chunks"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store is a directory-backed key-value store for session records.
type Store struct {
	dir string
}

// New creates a store rooted at dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Key derives a stable record key from the file checksum, so the same file
// always resumes the same session.
func Key(checksum string) string {
	digest := sha256.Sum256([]byte(checksum))

	return "session_" + hex.EncodeToString(digest[:8])
}

// Save writes the record atomically: encode to a temp file, then rename.
// A crash mid-save never corrupts the previous record.
func (s *Store) Save(key string, record *Record) error {
	err := os.MkdirAll(s.dir, 0o755)
	if err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	record.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	path := s.path(key)
	tmpPath := path + ".tmp"

	err = os.WriteFile(tmpPath, data, 0o644)
	if err != nil {
		return fmt.Errorf("write session record: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		return fmt.Errorf("commit session record: %w", err)
	}

	return nil
}

// Load reads the record for key, or ErrNotFound.
func (s *Store) Load(key string) (*Record, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read session record: %w", err)
	}

	var record Record

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}

	return &record, nil
}

// Delete removes the record for key. Deleting a missing record is not an
// error.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session record: %w", err)
	}

	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+recordExtension)
}
