package automation

import (
	"context"

	"github.com/cuongbtq/news-clipping/internal/worker/domain"
)

// Engine opens browser sessions on an acquired endpoint
type Engine interface {
	Open(ctx context.Context, endpoint string) (Session, error)
}

// Session is one browser session, scoped to one attempt.
//
// Run drives the task until the agent finishes, the step budget runs out or
// the session is closed. onStep is invoked synchronously after every step.
// Close may be called concurrently with Run and must make Run return.
type Session interface {
	Run(ctx context.Context, task string, maxSteps int, onStep func(Step)) (string, error)
	Usage() domain.Usage
	Close() error
}
