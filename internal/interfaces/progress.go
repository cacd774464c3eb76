package interfaces

import "errors"

// ErrJobCanceled is returned through a ProgressFunc when the running job has
// been canceled out from under the worker. Engines treat every progress call
// as a cancellation checkpoint and unwind when they see it.
var ErrJobCanceled = errors.New("job canceled")

// Stage names reported through progress updates, in pipeline order.
const (
	StageScanning = "scanning"
	StageFiltered = "filtered"
	StageIndexing = "indexing"
	StageIndexed  = "indexed"
	StageDone     = "done"
)

// ProgressUpdate carries a partial progress report. Nil counters leave the
// previously reported value untouched.
type ProgressUpdate struct {
	Stage string
	Done  *int
	Total *int
	Note  string
}

// ProgressFunc receives progress from a running engine. Returning an error
// aborts the engine; returning ErrJobCanceled aborts it as a cancellation.
type ProgressFunc func(u ProgressUpdate) error

// Count is a convenience for building ProgressUpdate counters inline.
func Count(v int) *int { return &v }
