package chunk

import "sync"

// Status is the transfer state of a single chunk.
type Status int

// Chunk transfer states.
const (
	// Pending means the chunk has not been uploaded yet, or is awaiting a retry.
	Pending Status = iota
	// InFlight means exactly one upload attempt currently owns the chunk.
	InFlight
	// Acked means the server confirmed receipt of the chunk.
	Acked
	// Failed means the chunk exhausted its retries or was rejected permanently.
	Failed
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case Acked:
		return "acked"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// State holds the mutable transfer state of one chunk.
type State struct {
	Status   Status `json:"status"`
	Attempts int    `json:"attempts"`
	LastErr  string `json:"last_err,omitempty"`
}

// Table tracks per-chunk state for a plan. A single mutex guards all
// transitions; each index is owned by at most one in-flight attempt at a
// time, enforced by Acquire handing out a Pending index exactly once.
type Table struct {
	mu     sync.Mutex
	states []State
}

// NewTable creates a state table with every chunk Pending.
func NewTable(plan *Plan) *Table {
	return &Table{states: make([]State, plan.Count())}
}

// Acquire transitions the chunk at index from Pending to InFlight and
// increments its attempt count. It reports false if the chunk is not Pending,
// so two workers can never own the same index.
func (t *Table) Acquire(index int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return false, ErrIndexOutOfRange
	}

	if t.states[index].Status != Pending {
		return false, nil
	}

	t.states[index].Status = InFlight
	t.states[index].Attempts++

	return true, nil
}

// MarkAcked records server confirmation for the chunk at index.
func (t *Table) MarkAcked(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return ErrIndexOutOfRange
	}

	t.states[index].Status = Acked
	t.states[index].LastErr = ""

	return nil
}

// NoteRetry records a retryable failure and increments the attempt count.
// The chunk stays InFlight: the owning worker retries it without returning
// it to the queue, so no other worker can pick it up mid-retry.
func (t *Table) NoteRetry(index int, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return ErrIndexOutOfRange
	}

	t.states[index].Attempts++
	if err != nil {
		t.states[index].LastErr = err.Error()
	}

	return nil
}

// MarkFailed records a terminal failure for the chunk at index.
func (t *Table) MarkFailed(index int, err error) error {
	return t.markWithError(index, Failed, err)
}

func (t *Table) markWithError(index int, status Status, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return ErrIndexOutOfRange
	}

	t.states[index].Status = status
	if err != nil {
		t.states[index].LastErr = err.Error()
	}

	return nil
}

// PendingIndices returns the indices still awaiting upload, in ascending
// order. The lowest index is always retried first, which keeps retry
// scheduling deterministic.
func (t *Table) PendingIndices() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []int

	for i := range t.states {
		if t.states[i].Status == Pending {
			pending = append(pending, i)
		}
	}

	return pending
}

// Attempts returns the attempt count for the chunk at index.
func (t *Table) Attempts(index int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index < 0 || index >= len(t.states) {
		return 0, ErrIndexOutOfRange
	}

	return t.states[index].Attempts, nil
}

// AllAcked reports whether every chunk reached Acked.
func (t *Table) AllAcked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.states {
		if t.states[i].Status != Acked {
			return false
		}
	}

	return true
}

// AckedCount returns the number of chunks the server has confirmed.
func (t *Table) AckedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0

	for i := range t.states {
		if t.states[i].Status == Acked {
			count++
		}
	}

	return count
}

// FirstFailed returns the lowest failed chunk index and its state, for
// failure diagnostics.
func (t *Table) FirstFailed() (int, State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.states {
		if t.states[i].Status == Failed {
			return i, t.states[i], true
		}
	}

	return 0, State{}, false
}

// Snapshot returns a copy of all chunk states, for persistence.
func (t *Table) Snapshot() []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make([]State, len(t.states))
	copy(snapshot, t.states)

	return snapshot
}

// Restore overwrites the table from a persisted snapshot. Chunks recorded as
// InFlight are demoted to Pending: an interrupted attempt never completed.
func (t *Table) Restore(states []State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(states) != len(t.states) {
		return ErrIndexOutOfRange
	}

	copy(t.states, states)

	for i := range t.states {
		if t.states[i].Status == InFlight {
			t.states[i].Status = Pending
		}
	}

	return nil
}
