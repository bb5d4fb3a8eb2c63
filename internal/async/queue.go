package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/procedo/constants"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks a worker to analyze one case in one mode.
type Job struct {
	CaseID      uuid.UUID
	OrgID       string
	Mode        constants.AnalysisMode
	SubmittedAt time.Time
	TraceID     string
}

// Handler runs a single job. Failures are recorded by the handler itself.
type Handler interface {
	Process(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Process(ctx context.Context, job Job) error { return f(ctx, job) }

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
