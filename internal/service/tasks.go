package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"wadispatch/internal/constants"

	"github.com/sirupsen/logrus"
)

// TaskRunner runs fire-and-forget follow-up work with bounded concurrency.
// Tasks outlive the request that started them but carry its correlation IDs.
type TaskRunner struct {
	sem     chan struct{}
	timeout time.Duration
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

func NewTaskRunner(concurrency int, logger *logrus.Logger) *TaskRunner {
	if concurrency <= 0 {
		concurrency = constants.DefaultTaskRunnerConcurrency
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskRunner{
		sem:     make(chan struct{}, concurrency),
		timeout: constants.DefaultTaskTimeoutSec * time.Second,
		logger:  logger,
	}
}

// Go schedules fn. Errors and panics are logged and never reach the caller.
func (r *TaskRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		ctx, cancel := context.WithTimeout(taskCtx, r.timeout)
		defer cancel()

		if err := r.run(ctx, fn); err != nil {
			logEntry(ctx, r.logger, logrus.Fields{"task": name}).WithError(err).Warn("Background task failed")
		}
	}()
}

func (r *TaskRunner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
			r.logger.WithField("stack", string(debug.Stack())).Error("Recovered panic in background task")
		}
	}()
	return fn(ctx)
}

// Wait blocks until every scheduled task has finished.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}
