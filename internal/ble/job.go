package ble

import (
	"time"

	"github.com/fatih/stopwatch"
	"github.com/google/uuid"
)

// PrintResult is the outcome of a print job. Err is nil on success and
// otherwise wraps ErrNotConnected, ErrJobInProgress or ErrWriteFailed.
type PrintResult struct {
	JobID    string
	Bytes    int
	Duration time.Duration
	Err      error
}

// writeGrace completes an unacknowledged job once the grace delay passed.
type writeGrace struct {
	jobID string
}

func (writeGrace) isEvent() {}

// printJob is the single in-flight job. Its result channel is written
// exactly once; later completions are ignored.
type printJob struct {
	id           string
	token        uint64 // echoed by the write acknowledgement
	payload      []byte
	acknowledged bool
	watch        *stopwatch.Stopwatch
	result       chan<- PrintResult
	done         bool
}

func newPrintJob(token uint64, payload []byte, acknowledged bool, result chan<- PrintResult) *printJob {
	return &printJob{
		id:           uuid.NewString(),
		token:        token,
		payload:      payload,
		acknowledged: acknowledged,
		watch:        stopwatch.Start(0),
		result:       result,
	}
}

// complete delivers the result and reports whether this call did so.
func (j *printJob) complete(err error) bool {
	if j.done {
		return false
	}
	j.done = true
	j.watch.Stop()
	j.result <- PrintResult{
		JobID:    j.id,
		Bytes:    len(j.payload),
		Duration: j.watch.ElapsedTime(),
		Err:      err,
	}
	close(j.result)
	return true
}

// rejectJob resolves a request that never became a job.
func rejectJob(result chan<- PrintResult, err error) {
	result <- PrintResult{Err: err}
	close(result)
}
