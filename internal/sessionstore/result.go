package sessionstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Stored transcript filename layout. ResultPath and JobIDFromResultName are
// the only places that know it.
const (
	resultPrefix    = "transcript_"
	resultExtension = ".json.lz4"
)

// ResultPath returns the path a transcript for jobID is stored at under dir.
func ResultPath(dir, jobID string) string {
	return filepath.Join(dir, resultPrefix+jobID+resultExtension)
}

// JobIDFromResultName extracts the job id from a stored transcript filename.
func JobIDFromResultName(name string) (string, bool) {
	trimmed, ok := strings.CutPrefix(name, resultPrefix)
	if !ok {
		return "", false
	}

	trimmed, ok = strings.CutSuffix(trimmed, resultExtension)
	if !ok || trimmed == "" {
		return "", false
	}

	return trimmed, true
}

// SaveResult stores a transcript payload for a job under dir, LZ4 frame
// compressed. Transcripts for long media are highly repetitive JSON, so the
// frame format trades a little CPU for substantially smaller files.
func SaveResult(dir, jobID string, payload []byte) (string, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	path := ResultPath(dir, jobID)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create result file: %w", err)
	}
	defer file.Close()

	writer := lz4.NewWriter(file)

	_, err = writer.Write(payload)
	if err != nil {
		return "", fmt.Errorf("compress result: %w", err)
	}

	err = writer.Close()
	if err != nil {
		return "", fmt.Errorf("flush result: %w", err)
	}

	return path, nil
}

// LoadResult reads back an LZ4-framed transcript payload.
func LoadResult(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer

	_, err = io.Copy(&buf, lz4.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("decompress result: %w", err)
	}

	return buf.Bytes(), nil
}
