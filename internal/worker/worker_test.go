package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/notepulse/internal/store"
	"github.com/elonfeng/notepulse/pkg/analysis"
	"github.com/elonfeng/notepulse/pkg/ces"
)

type fakeRunner struct {
	mu    sync.Mutex
	tasks []analysis.Task
	err   error
}

func (f *fakeRunner) HandleTask(ctx context.Context, task analysis.Task) (analysis.Summary, []analysis.AnalyzedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return analysis.Summary{}, nil, f.err
	}
	items := make([]analysis.AnalyzedItem, 0, len(task.Items))
	for i := range task.Items {
		e := ces.ComputeScore(task.Items[i])
		e.Rank = i + 1
		items = append(items, analysis.AnalyzedItem{
			TaskID:   task.TaskID,
			Original: e,
			Tags:     "咖啡",
		})
	}
	return analysis.Summary{
		TaskID:     task.TaskID,
		NotesIn:    len(task.Items),
		Kept:       len(items),
		CallbackOK: true,
	}, items, nil
}

func (f *fakeRunner) seen() []analysis.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analysis.Task(nil), f.tasks...)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func waitForStatus(t *testing.T, s store.Store, id, status string) *store.Task {
	t.Helper()
	var got *store.Task
	require.Eventually(t, func() bool {
		task, err := s.GetTask(context.Background(), id)
		if err != nil {
			return false
		}
		got = task
		return task.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestSubmitAndProcess(t *testing.T) {
	s := newTestStore(t)
	runner := &fakeRunner{}
	pool := New(s, runner, 2, 8, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	task := &store.Task{
		ID:       "t1",
		Keywords: "手冲咖啡",
		Items: []ces.Item{
			{NoteID: "n1", LikedCount: 10, CommentCount: 2},
			{NoteID: "n2", LikedCount: 3},
		},
	}
	require.NoError(t, pool.Submit(ctx, task))

	done := waitForStatus(t, s, "t1", store.StatusDone)
	assert.Equal(t, 2, done.NotesIn)
	assert.Equal(t, 2, done.Kept)
	assert.True(t, done.CallbackOK)

	seen := runner.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "手冲咖啡", seen[0].Keywords)
	require.Len(t, seen[0].Items, 2)

	results, err := s.ListResults(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "n1", results[0].NoteID)
	assert.Equal(t, 18.0, results[0].CES)
	assert.Equal(t, "咖啡", results[0].Tags)
}

func TestFailedTask(t *testing.T) {
	s := newTestStore(t)
	runner := &fakeRunner{err: errors.New("score workflow unreachable")}
	pool := New(s, runner, 1, 8, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	require.NoError(t, pool.Submit(ctx, &store.Task{ID: "t1"}))

	failed := waitForStatus(t, s, "t1", store.StatusFailed)
	assert.Equal(t, "score workflow unreachable", failed.Error)
}

func TestRequeuesInterruptedTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Simulate a previous run that died mid-task.
	require.NoError(t, s.CreateTask(ctx, &store.Task{ID: "stale", Items: []ces.Item{{NoteID: "n1"}}}))
	require.NoError(t, s.MarkRunning(ctx, "stale"))

	runner := &fakeRunner{}
	pool := New(s, runner, 1, 8, quietLogger())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go pool.Run(runCtx)

	waitForStatus(t, s, "stale", store.StatusDone)
	seen := runner.seen()
	require.Len(t, seen, 1)
	assert.Equal(t, "stale", seen[0].TaskID)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	pool := New(s, &fakeRunner{}, 1, 8, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- pool.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
