package transfer

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Direction says which way a job moves bytes.
type Direction int

const (
	DirectionUpload Direction = iota
	DirectionDownload
	DirectionDelete
)

func (d Direction) String() string {
	switch d {
	case DirectionUpload:
		return "upload"
	case DirectionDownload:
		return "download"
	case DirectionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Status is a job's lifecycle state.
type Status int

const (
	StatusQueued Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is one queued transfer. LocalPath is the source for uploads;
// RemoteID is the source for downloads and the target for deletes.
// DestFolderID is the upload destination.
type Job struct {
	ID           string
	Direction    Direction
	LocalPath    string
	RemoteID     string
	DestFolderID string
	Confirm      ConfirmFunc

	mu     sync.Mutex
	status Status
	bytes  int64
	result string
	err    error
}

// NewJob creates a queued job with a fresh id.
func NewJob(dir Direction) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Direction: dir,
		status:    StatusQueued,
	}
}

// Status returns the job's current lifecycle state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.status
}

// Bytes returns how many bytes the job has moved.
func (j *Job) Bytes() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.bytes
}

// Result returns the job's output: the local path for downloads, the
// created remote id for uploads.
func (j *Job) Result() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.result
}

// Err returns the job's failure, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

func (j *Job) setRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = StatusRunning
}

func (j *Job) finish(bytes int64, result string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.bytes = bytes
	j.result = result
	j.err = err

	if err != nil {
		j.status = StatusFailed
	} else {
		j.status = StatusSucceeded
	}
}

// maxConcurrentJobs bounds how many transfers run at once in a batch.
const maxConcurrentJobs = 4

// Run executes a batch of jobs concurrently. Every job runs to a
// terminal status; the returned error is the first failure, and
// per-job outcomes stay available via Job.Err.
func (e *Engine) Run(ctx context.Context, jobs []*Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentJobs)

	for _, job := range jobs {
		g.Go(func() error {
			job.setRunning()

			bytes, result, err := e.runJob(ctx, job)
			job.finish(bytes, result, err)

			return err
		})
	}

	return g.Wait()
}

func (e *Engine) runJob(ctx context.Context, job *Job) (int64, string, error) {
	switch job.Direction {
	case DirectionUpload:
		created, err := e.Upload(ctx, job.LocalPath, job.DestFolderID)
		if err != nil {
			return 0, "", err
		}

		return created.Size, created.ID, nil
	case DirectionDownload:
		path, err := e.Download(ctx, job.RemoteID, job.Confirm)
		if err != nil {
			return 0, "", err
		}

		info, statErr := os.Stat(path)
		if statErr != nil {
			return 0, path, nil
		}

		return info.Size(), path, nil
	case DirectionDelete:
		return 0, "", e.Delete(ctx, job.RemoteID)
	default:
		return 0, "", nil
	}
}
