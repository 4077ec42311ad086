package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sjsage522/dealingest/internal/pipeline"
	"sjsage522/dealingest/logger"

	"github.com/robfig/cron/v3"
)

// Runner runs one ingestion cycle
type Runner interface {
	RunOnce(ctx context.Context) (*pipeline.Summary, error)
}

// Worker triggers the ingestion cycle on a fixed interval
type Worker struct {
	cron         *cron.Cron
	job          cron.Job
	runner       Runner
	log          *logger.Logger
	spec         string
	initialDelay time.Duration

	ctx      context.Context
	initial  sync.WaitGroup
	stopOnce sync.Once
	stop     chan struct{}
}

// NewWorker creates a worker that runs every interval, the first time after initialDelay
func NewWorker(runner Runner, interval, initialDelay time.Duration, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}

	w := &Worker{
		runner:       runner,
		log:          log,
		spec:         fmt.Sprintf("@every %s", interval),
		initialDelay: initialDelay,
		stop:         make(chan struct{}),
	}

	cl := cronLogger{log: log}
	w.cron = cron.New(cron.WithLogger(cl))
	w.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(w.runCycle))

	return w
}

// Start registers the job and starts the scheduler
func (w *Worker) Start(ctx context.Context) error {
	w.ctx = ctx

	if _, err := w.cron.AddJob(w.spec, w.job); err != nil {
		return fmt.Errorf("cron.AddJob: %w", err)
	}

	w.cron.Start()
	w.log.Info().
		Str("spec", w.spec).
		Dur("initial_delay", w.initialDelay).
		Msg("Scheduler started")

	w.initial.Add(1)
	go func() {
		defer w.initial.Done()

		t := time.NewTimer(w.initialDelay)
		defer t.Stop()
		select {
		case <-t.C:
			w.job.Run()
		case <-w.stop:
		case <-ctx.Done():
		}
	}()

	return nil
}

// Stop stops scheduling and waits for a running cycle to finish or ctx to expire
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })

	scheduled := w.cron.Stop()
	done := make(chan struct{})
	go func() {
		w.initial.Wait()
		<-scheduled.Done()
		close(done)
	}()

	select {
	case <-done:
		w.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) runCycle() {
	ctx := w.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	sum, err := w.runner.RunOnce(ctx)
	if errors.Is(err, pipeline.ErrCycleInProgress) {
		w.log.Info().Msg("Cycle already running, skipping tick")
		return
	}
	if err != nil {
		w.log.Error().Err(err).Msg("Scheduled cycle failed")
		return
	}

	w.log.Debug().
		Str("run_id", sum.RunID).
		Int("saved", sum.Saved).
		Dur("duration", sum.Duration).
		Msg("Scheduled cycle finished")
}

// cronLogger adapts the zerolog wrapper to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

var _ cron.Logger = cronLogger{}
