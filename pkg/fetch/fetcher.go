// Package fetch produces local media files from source URLs. The extraction
// itself is delegated to a yt-dlp subprocess; this package owns the file
// identity (size, SHA-256 checksum, content type) handed to the uploader.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// Fetch failure classification.
var (
	// ErrUnsupportedSource indicates the URL is not handled by any extractor.
	ErrUnsupportedSource = errors.New("fetch: unsupported source")
	// ErrNetworkError indicates the source could not be reached.
	ErrNetworkError = errors.New("fetch: network error")
	// ErrRestrictedContent indicates the content is private, region-locked,
	// or age-gated.
	ErrRestrictedContent = errors.New("fetch: restricted content")
	// ErrFileTooLarge indicates the media exceeds the configured size limit.
	ErrFileTooLarge = errors.New("fetch: file exceeds size limit")
)

// FileHandle is the immutable identity of a fetched local file. Size and
// checksum describe the file at computation time; a checksum mismatch at
// upload-finalize time means the file changed in between.
type FileHandle struct {
	Path        string
	Size        int64
	Checksum    string
	ContentType string
	Title       string
}

// Fetcher turns a source URL into a local file.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FileHandle, error)
}

// Checksum computes the SHA-256 digest of the file at path, hex encoded.
func Checksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()

	_, err = io.Copy(hasher, file)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// NewFileHandle builds a FileHandle for an existing local file, computing
// its size and checksum.
func NewFileHandle(path string) (*FileHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	checksum, err := Checksum(path)
	if err != nil {
		return nil, err
	}

	return &FileHandle{Path: path, Size: info.Size(), Checksum: checksum}, nil
}
