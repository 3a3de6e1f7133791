package task_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goose-run/goose-core/task"
)

type fakeInlineRunner struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeInlineRunner) RunInlineRecipe(ctx context.Context, recipe map[string]any, returnLastOnly bool) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	instructions, _ := recipe["instructions"].(string)
	if instructions == "fail" {
		return "", fmt.Errorf("boom")
	}
	return "done: " + instructions, nil
}

func TestRunTasksInlineRecipeSuccess(t *testing.T) {
	runner := &fakeInlineRunner{}
	ex := task.NewExecutor(task.NewExecutionTracker(), "", 0, runner)

	results := ex.RunTasks(context.Background(), []task.Task{
		{ID: "1", Type: task.TypeInlineRecipe, Payload: map[string]any{
			"recipe": map[string]any{"instructions": "summarize the repo"},
		}},
	})

	require.Len(t, results, 1)
	assert.Equal(t, task.StatusCompleted, results[0].Status)
	data, ok := results[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "done: summarize the repo", data["result"])
}

func TestRunTasksInlineRecipeFailure(t *testing.T) {
	runner := &fakeInlineRunner{}
	ex := task.NewExecutor(task.NewExecutionTracker(), "", 0, runner)

	results := ex.RunTasks(context.Background(), []task.Task{
		{ID: "1", Type: task.TypeInlineRecipe, Payload: map[string]any{
			"recipe": map[string]any{"instructions": "fail"},
		}},
	})

	require.Len(t, results, 1)
	assert.Equal(t, task.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "boom")
}

func TestRunTasksMissingInlineRunner(t *testing.T) {
	ex := task.NewExecutor(task.NewExecutionTracker(), "", 0, nil)
	results := ex.RunTasks(context.Background(), []task.Task{
		{ID: "1", Type: task.TypeInlineRecipe, Payload: map[string]any{"recipe": map[string]any{}}},
	})
	require.Len(t, results, 1)
	assert.Equal(t, task.StatusFailed, results[0].Status)
}

func TestRunTasksCancellationFailsUnstartedTasks(t *testing.T) {
	ex := task.NewExecutor(task.NewExecutionTracker(), "", 1, &fakeInlineRunner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := ex.RunTasks(ctx, []task.Task{
		{ID: "1", Type: task.TypeInlineRecipe, Payload: map[string]any{"recipe": map[string]any{}}},
	})
	require.Len(t, results, 1)
	assert.Equal(t, task.StatusFailed, results[0].Status)
}

func TestRunTasksSubRecipeMissingFieldsFail(t *testing.T) {
	ex := task.NewExecutor(task.NewExecutionTracker(), "goose", 0, nil)
	results := ex.RunTasks(context.Background(), []task.Task{
		{ID: "1", Type: task.TypeSubRecipe, Payload: map[string]any{}},
	})
	require.Len(t, results, 1)
	assert.Equal(t, task.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "sub_recipe_name")
}

func TestRunTasksBoundsParallelism(t *testing.T) {
	var concurrent, maxSeen int32
	runner := inlineRunnerFunc(func(ctx context.Context, recipe map[string]any, returnLastOnly bool) (string, error) {
		n := atomic.AddInt32(&concurrent, 1)
		defer atomic.AddInt32(&concurrent, -1)
		for {
			cur := atomic.LoadInt32(&maxSeen)
			if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "ok", nil
	})

	ex := task.NewExecutor(task.NewExecutionTracker(), "", 2, runner)
	tasks := make([]task.Task, 6)
	for i := range tasks {
		tasks[i] = task.Task{ID: fmt.Sprintf("t%d", i), Type: task.TypeInlineRecipe, Payload: map[string]any{"recipe": map[string]any{}}}
	}

	results := ex.RunTasks(context.Background(), tasks)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.Equal(t, task.StatusCompleted, r.Status)
	}
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

type inlineRunnerFunc func(ctx context.Context, recipe map[string]any, returnLastOnly bool) (string, error)

func (f inlineRunnerFunc) RunInlineRecipe(ctx context.Context, recipe map[string]any, returnLastOnly bool) (string, error) {
	return f(ctx, recipe, returnLastOnly)
}

func TestRunTasksSerializesSequentialWhenRepeated(t *testing.T) {
	// Two sub-recipe tasks sharing a name and marked
	// sequential_when_repeated take the same name-lock before spawning;
	// pointing at a nonexistent binary exercises that lock path (both
	// fail fast on spawn) without depending on process-timing flakiness.
	ex := task.NewExecutor(task.NewExecutionTracker(), "definitely-not-a-real-binary-xyz", 4, nil)
	tasks := []task.Task{
		{ID: "a", Type: task.TypeSubRecipe, Payload: map[string]any{
			"sub_recipe_name": "dup", "sub_recipe_path": "r.yaml", "sequential_when_repeated": true,
		}},
		{ID: "b", Type: task.TypeSubRecipe, Payload: map[string]any{
			"sub_recipe_name": "dup", "sub_recipe_path": "r.yaml", "sequential_when_repeated": true,
		}},
	}
	results := ex.RunTasks(context.Background(), tasks)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, task.StatusFailed, r.Status)
	}
}
