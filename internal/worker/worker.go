package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/notepulse/internal/store"
	"github.com/elonfeng/notepulse/pkg/analysis"
)

// Runner processes one analysis task.
type Runner interface {
	HandleTask(ctx context.Context, task analysis.Task) (analysis.Summary, []analysis.AnalyzedItem, error)
}

// Pool pulls tasks from a queue and runs them through a Runner.
// Tasks are persisted before they are queued, so a restart re-runs
// whatever was pending or in flight.
type Pool struct {
	store   store.Store
	runner  Runner
	log     *logrus.Logger
	queue   chan string
	workers int
}

// New creates a worker pool.
func New(s store.Store, runner Runner, workers, queueSize int, log *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		store:   s,
		runner:  runner,
		log:     log,
		queue:   make(chan string, queueSize),
		workers: workers,
	}
}

// Submit persists a task and queues it for processing.
func (p *Pool) Submit(ctx context.Context, t *store.Task) error {
	if err := p.store.CreateTask(ctx, t); err != nil {
		return err
	}
	select {
	case p.queue <- t.ID:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// Queue is full. The task is already persisted and will be
		// picked up on the next restart.
		p.log.WithField("task_id", t.ID).Warn("task queue full, deferring to restart")
	}
	return nil
}

// Run starts the workers and blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	// Reclaim work interrupted by a previous shutdown.
	if err := p.store.ResetRunning(ctx); err != nil {
		return fmt.Errorf("reclaim tasks: %w", err)
	}
	pending, err := p.store.PendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("load pending tasks: %w", err)
	}
	for i := range pending {
		select {
		case p.queue <- pending[i].ID:
		default:
		}
	}
	if len(pending) > 0 {
		p.log.WithField("count", len(pending)).Info("requeued pending tasks")
	}

	done := make(chan struct{})
	for i := 0; i < p.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-p.queue:
					p.process(ctx, id)
				}
			}
		}()
	}

	for i := 0; i < p.workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (p *Pool) process(ctx context.Context, id string) {
	log := p.log.WithField("task_id", id)

	task, err := p.store.GetTask(ctx, id)
	if err != nil {
		log.WithError(err).Error("load task")
		return
	}
	if task.Status != store.StatusPending {
		return
	}
	if err := p.store.MarkRunning(ctx, id); err != nil {
		log.WithError(err).Error("mark running")
		return
	}

	summary, items, err := p.runner.HandleTask(ctx, analysis.Task{
		TaskID:   task.ID,
		Keywords: task.Keywords,
		Items:    task.Items,
	})
	if err != nil {
		log.WithError(err).Error("task failed")
		if e := p.store.MarkFailed(ctx, id, err.Error()); e != nil {
			log.WithError(e).Error("mark failed")
		}
		return
	}

	results := make([]store.Result, 0, len(items))
	for i := range items {
		payloadJSON, _ := json.Marshal(items[i])
		results = append(results, store.Result{
			NoteID:      items[i].Original.NoteID,
			Rank:        items[i].Original.Rank,
			CES:         items[i].Original.CES,
			WeightedCES: items[i].Original.WeightedCES,
			Tags:        items[i].Tags,
			PayloadJSON: string(payloadJSON),
		})
	}
	if err := p.store.SaveResults(ctx, id, results); err != nil {
		log.WithError(err).Error("save results")
	}
	if err := p.store.MarkDone(ctx, id, summary.NotesIn, summary.Kept, summary.CallbackOK); err != nil {
		log.WithError(err).Error("mark done")
	}
	log.WithFields(logrus.Fields{
		"notes_in": summary.NotesIn,
		"kept":     summary.Kept,
	}).Info("task done")
}
