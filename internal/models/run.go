package models

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a [HarvestRun].
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial" // finished with a non-empty error report
	RunFailed    RunStatus = "failed"
)

// HarvestRun is the history record of one CLI command execution.
//
// History is informational. Whether an artifact was fetched is always decided by the filesystem.
type HarvestRun struct {
	id              string
	sequence        int
	command         string
	status          RunStatus
	dataDir         string
	written         int
	skipped         int
	failed          int
	failedPlaylists []string
	errMsg          string
	startedAt       time.Time
	finishedAt      *time.Time
}

// NewHarvestRun starts a run record for command against dataDir.
func NewHarvestRun(command, dataDir string) *HarvestRun {
	return &HarvestRun{
		command:   command,
		dataDir:   dataDir,
		status:    RunRunning,
		startedAt: time.Now(),
	}
}

func (r *HarvestRun) ID() string                { return r.id }
func (r *HarvestRun) Sequence() int             { return r.sequence }
func (r *HarvestRun) Command() string           { return r.command }
func (r *HarvestRun) Status() RunStatus         { return r.status }
func (r *HarvestRun) DataDir() string           { return r.dataDir }
func (r *HarvestRun) Written() int              { return r.written }
func (r *HarvestRun) Skipped() int              { return r.skipped }
func (r *HarvestRun) Failed() int               { return r.failed }
func (r *HarvestRun) FailedPlaylists() []string { return r.failedPlaylists }
func (r *HarvestRun) ErrorMessage() string      { return r.errMsg }
func (r *HarvestRun) StartedAt() time.Time      { return r.startedAt }
func (r *HarvestRun) FinishedAt() *time.Time    { return r.finishedAt }

// Elapsed is the wall time of a finished run, zero while it is running.
func (r *HarvestRun) Elapsed() time.Duration {
	if r.finishedAt == nil {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}

func (r *HarvestRun) SetID(id string)               { r.id = id }
func (r *HarvestRun) SetSequence(seq int)           { r.sequence = seq }
func (r *HarvestRun) SetStatus(s RunStatus)         { r.status = s }
func (r *HarvestRun) SetStartedAt(t time.Time)      { r.startedAt = t }
func (r *HarvestRun) SetFinishedAt(t *time.Time)    { r.finishedAt = t }
func (r *HarvestRun) SetFailedPlaylists(n []string) { r.failedPlaylists = n }
func (r *HarvestRun) SetError(msg string)           { r.errMsg = msg }

// SetCounts records artifact counters.
func (r *HarvestRun) SetCounts(written, skipped, failed int) {
	r.written, r.skipped, r.failed = written, skipped, failed
}

// Finish stamps the end time and derives the status from err and the failed playlists.
func (r *HarvestRun) Finish(err error) {
	now := time.Now()
	r.finishedAt = &now
	switch {
	case err != nil:
		r.status = RunFailed
		r.errMsg = err.Error()
	case len(r.failedPlaylists) > 0:
		r.status = RunPartial
	default:
		r.status = RunSucceeded
	}
}

// Validate checks required fields and counters.
func (r *HarvestRun) Validate() error {
	switch {
	case r.command == "":
		return fmt.Errorf("command is required")
	case r.status == "":
		return fmt.Errorf("status is required")
	case r.written < 0 || r.skipped < 0 || r.failed < 0:
		return fmt.Errorf("counters must not be negative")
	case r.finishedAt != nil && r.finishedAt.Before(r.startedAt):
		return fmt.Errorf("finished_at precedes started_at")
	}
	return nil
}
