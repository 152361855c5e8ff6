package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// Audio quality presets mapped to yt-dlp format selectors.
const (
	QualityBest = "best"
	QualityGood = "good"
	QualityFast = "fast"
)

var formatSelectors = map[string]string{
	QualityBest: "bestaudio/best",
	QualityGood: "bestaudio[abr<=128]/best[abr<=128]",
	QualityFast: "worstaudio/worst",
}

// maxFilenameLength bounds sanitized titles used as filenames.
const maxFilenameLength = 200

// runFunc executes a subprocess and returns combined stdout, stderr, and the
// run error. Swappable in tests.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var outBuf, errBuf strings.Builder

	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()

	return []byte(outBuf.String()), []byte(errBuf.String()), err
}

// YTDLPOptions configures the yt-dlp fetcher.
type YTDLPOptions struct {
	// Binary is the yt-dlp executable name or path.
	Binary string
	// Dir is the download directory; created if missing.
	Dir string
	// Quality is one of the quality presets.
	Quality string
	// MaxFileSize rejects media larger than this many bytes before
	// downloading. Zero disables the check.
	MaxFileSize int64
	// Logger receives progress logging. Defaults to slog.Default.
	Logger *slog.Logger
}

// YTDLP fetches media through a yt-dlp subprocess.
type YTDLP struct {
	opts YTDLPOptions
	run  runFunc
}

// NewYTDLP creates a yt-dlp backed fetcher.
func NewYTDLP(opts YTDLPOptions) *YTDLP {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}

	if opts.Quality == "" {
		opts.Quality = QualityBest
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &YTDLP{opts: opts, run: execRun}
}

// mediaInfo is the subset of yt-dlp's --dump-json output the fetcher needs.
type mediaInfo struct {
	Title          string `json:"title"`
	Filesize       int64  `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
}

// Fetch downloads the audio track of the media at url into the configured
// directory and returns its FileHandle.
func (y *YTDLP) Fetch(ctx context.Context, url string) (*FileHandle, error) {
	info, err := y.probe(ctx, url)
	if err != nil {
		return nil, err
	}

	expectedSize := info.Filesize
	if expectedSize == 0 {
		expectedSize = info.FilesizeApprox
	}

	if y.opts.MaxFileSize > 0 && expectedSize > y.opts.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes > %d bytes limit", ErrFileTooLarge, expectedSize, y.opts.MaxFileSize)
	}

	mkdirErr := os.MkdirAll(y.opts.Dir, 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create download dir: %w", mkdirErr)
	}

	basename := fmt.Sprintf("%s_%d", SanitizeFilename(info.Title), time.Now().Unix())
	outputTemplate := filepath.Join(y.opts.Dir, basename+".%(ext)s")

	selector := formatSelectors[y.opts.Quality]
	if selector == "" {
		selector = formatSelectors[QualityBest]
	}

	y.opts.Logger.Info("downloading media", "url", url, "title", info.Title, "quality", y.opts.Quality)

	_, stderr, runErr := y.run(ctx, y.opts.Binary,
		"--format", selector,
		"--extract-audio",
		"--audio-format", "mp3",
		"--no-warnings",
		"--no-progress",
		"--output", outputTemplate,
		url,
	)
	if runErr != nil {
		return nil, classifyFetchError(stderr, runErr)
	}

	path, err := y.locateOutput(basename)
	if err != nil {
		return nil, err
	}

	handle, err := NewFileHandle(path)
	if err != nil {
		return nil, err
	}

	handle.Title = info.Title
	handle.ContentType = detectContentType(path)

	y.opts.Logger.Info("download complete", "path", path, "size", handle.Size)

	return handle, nil
}

// probe asks yt-dlp for media metadata without downloading.
func (y *YTDLP) probe(ctx context.Context, url string) (*mediaInfo, error) {
	stdout, stderr, err := y.run(ctx, y.opts.Binary, "--dump-json", "--no-download", "--no-warnings", url)
	if err != nil {
		return nil, classifyFetchError(stderr, err)
	}

	var info mediaInfo

	decodeErr := json.Unmarshal(stdout, &info)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode media info: %w", ErrUnsupportedSource, decodeErr)
	}

	if info.Title == "" {
		info.Title = "media"
	}

	return &info, nil
}

// locateOutput finds the downloaded file; yt-dlp appends the extension it
// chose, so the exact name is only known after the run.
func (y *YTDLP) locateOutput(basename string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(y.opts.Dir, basename+".*"))
	if err != nil {
		return "", fmt.Errorf("locate download: %w", err)
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("%w: download finished but no output file found", ErrNetworkError)
	}

	return matches[0], nil
}

// classifyFetchError maps yt-dlp stderr output onto the fetch error taxonomy.
func classifyFetchError(stderr []byte, err error) error {
	text := strings.ToLower(string(stderr))

	switch {
	case strings.Contains(text, "unsupported url") || strings.Contains(text, "no suitable extractor"):
		return fmt.Errorf("%w: %s", ErrUnsupportedSource, firstLine(text))
	case strings.Contains(text, "private") || strings.Contains(text, "sign in") ||
		strings.Contains(text, "age") || strings.Contains(text, "not available in your country"):
		return fmt.Errorf("%w: %s", ErrRestrictedContent, firstLine(text))
	default:
		return fmt.Errorf("%w: %s: %w", ErrNetworkError, firstLine(text), err)
	}
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")

	return line
}

// detectContentType sniffs the media MIME type from file content, falling
// back to octet-stream when detection fails.
func detectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}

	return mtype.String()
}

// SanitizeFilename strips characters that are unsafe in filenames and bounds
// the length.
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", "\"", "_",
		"/", "_", "\\", "_", "|", "_", "?", "_", "*", "_",
	)

	sanitized := replacer.Replace(name)
	if len(sanitized) > maxFilenameLength {
		sanitized = sanitized[:maxFilenameLength]
	}

	if sanitized == "" {
		sanitized = "media"
	}

	return sanitized
}
