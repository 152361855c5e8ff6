// Package chunk splits a local file into fixed-size upload units and tracks
// their per-chunk transfer state.
package chunk

import "errors"

// Sentinel errors for plan construction and state table access.
var (
	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk: chunk size must be positive")
	// ErrEmptyFile indicates a zero-length file, which cannot be uploaded.
	ErrEmptyFile = errors.New("chunk: file is empty")
	// ErrIndexOutOfRange indicates a chunk index outside the plan.
	ErrIndexOutOfRange = errors.New("chunk: index out of range")
)

// Descriptor identifies one contiguous byte range of the source file.
// Indices are 0-based and contiguous; offsets partition [0, size) exactly.
type Descriptor struct {
	Index  int   `json:"index"`
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// Plan is the ordered sequence of chunk descriptors for one file.
type Plan struct {
	FileSize  int64        `json:"file_size"`
	ChunkSize int64        `json:"chunk_size"`
	Chunks    []Descriptor `json:"chunks"`
}

// NewPlan computes the chunk plan for a file of the given size. All chunks
// have the fixed chunk size except possibly the last one. The computation is
// deterministic for identical inputs.
func NewPlan(fileSize, chunkSize int64) (*Plan, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	if fileSize <= 0 {
		return nil, ErrEmptyFile
	}

	count := int((fileSize + chunkSize - 1) / chunkSize)
	chunks := make([]Descriptor, 0, count)

	for index := range count {
		offset := int64(index) * chunkSize

		length := chunkSize
		if offset+length > fileSize {
			length = fileSize - offset
		}

		chunks = append(chunks, Descriptor{Index: index, Offset: offset, Length: length})
	}

	return &Plan{FileSize: fileSize, ChunkSize: chunkSize, Chunks: chunks}, nil
}

// Count returns the number of chunks in the plan.
func (p *Plan) Count() int {
	return len(p.Chunks)
}

// Descriptor returns the descriptor for the given index.
func (p *Plan) Descriptor(index int) (Descriptor, error) {
	if index < 0 || index >= len(p.Chunks) {
		return Descriptor{}, ErrIndexOutOfRange
	}

	return p.Chunks[index], nil
}
