package dispatch

import (
	"sync"
	"sync/atomic"
)

// ChunkResult is the final outcome for one chunk.
type ChunkResult struct {
	Name          string   `json:"name"`
	Done          bool     `json:"done"`
	Lines         []string `json:"-"`
	Model         string   `json:"model,omitempty"`
	KeyName       string   `json:"key_name,omitempty"`
	CountMismatch bool     `json:"count_mismatch,omitempty"`
	LastError     string   `json:"last_error,omitempty"`
}

// Report is the structured outcome of one batch run. Completed and failed
// chunks are disjoint; a chunk that failed on one tier and completed on a
// later one counts as completed.
type Report struct {
	BatchID        string   `json:"batch_id"`
	FinalModel     string   `json:"final_model"`
	TiersTried     []string `json:"tiers_tried"`
	FleetExhausted bool     `json:"fleet_exhausted"`
	Cancelled      bool     `json:"cancelled,omitempty"`

	TotalChunks int `json:"total_chunks"`
	DoneChunks  int `json:"done_chunks"`

	Chunks []*ChunkResult `json:"chunks"`

	mu    sync.Mutex
	noKey atomic.Bool
	index map[string]*ChunkResult
}

func newReport(batchID string, chunks []Chunk) *Report {
	r := &Report{
		BatchID:     batchID,
		TotalChunks: len(chunks),
		index:       make(map[string]*ChunkResult, len(chunks)),
	}
	for _, c := range chunks {
		cr := &ChunkResult{Name: c.Name}
		r.Chunks = append(r.Chunks, cr)
		r.index[c.Name] = cr
	}
	return r
}

// complete marks a chunk done. Caller holds r.mu.
func (r *Report) complete(chunk Chunk, model string, out *attemptOutcome) {
	cr := r.index[chunk.Name]
	cr.Done = true
	cr.Lines = out.lines
	cr.Model = model
	cr.KeyName = out.key.Name
	cr.CountMismatch = out.mismatch
	cr.LastError = ""
}

// fail records a chunk failure. Caller holds r.mu.
func (r *Report) fail(chunk Chunk, model string, out *attemptOutcome) {
	cr := r.index[chunk.Name]
	cr.Model = model
	cr.KeyName = out.key.Name
	cr.LastError = out.errMsg
}

func (r *Report) failMessage(chunk Chunk, model, msg string) {
	cr := r.index[chunk.Name]
	cr.Model = model
	cr.LastError = msg
}

// isDone reports whether a chunk completed. Caller holds r.mu.
func (r *Report) isDone(name string) bool {
	return r.index[name].Done
}

func (r *Report) finish(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FinalModel = model
	n := 0
	for _, cr := range r.Chunks {
		if cr.Done {
			n++
		}
	}
	r.DoneChunks = n
}

func (r *Report) lastTier() string {
	if len(r.TiersTried) == 0 {
		return ""
	}
	return r.TiersTried[len(r.TiersTried)-1]
}

// Failed returns the chunks that never completed.
func (r *Report) Failed() []*ChunkResult {
	var out []*ChunkResult
	for _, cr := range r.Chunks {
		if !cr.Done {
			out = append(out, cr)
		}
	}
	return out
}

// Complete reports whether every chunk finished.
func (r *Report) Complete() bool { return r.DoneChunks == r.TotalChunks }

// Partial reports whether some but not all chunks finished.
func (r *Report) Partial() bool { return r.DoneChunks > 0 && r.DoneChunks < r.TotalChunks }

// TotalFailure reports whether no chunk finished.
func (r *Report) TotalFailure() bool { return r.DoneChunks == 0 }
