// Package task is the sub-agent / task executor (C7): it runs either an
// inline recipe (a fresh in-process agent, reentering the reply loop) or
// a sub-recipe (spawning a "goose run --recipe" child process),
// multiplexing live output across concurrently running tasks, bounding
// parallelism with a semaphore, and serializing same-name sub-recipes
// marked sequential_when_repeated. Grounded on original_source's
// agents/subagent_execution_tool/tasks.rs for the algorithm and the
// teacher's pkg/tools/command.go for the Go subprocess idiom.
package task

// Type identifies which execution path a Task takes.
type Type string

const (
	TypeSubRecipe    Type = "sub_recipe"
	TypeInlineRecipe Type = "inline_recipe"
)

// Task is one unit of work the executor can run.
type Task struct {
	ID   string
	Type Type
	// Payload carries type-specific fields:
	//   SubRecipe:    sub_recipe_name, sub_recipe_path, command_parameters,
	//                 sequential_when_repeated (bool)
	//   InlineRecipe: recipe (map[string]any), return_last_only (bool)
	Payload map[string]any
}

// SubRecipeName returns the configured sub-recipe name, or "" if Task
// isn't a SubRecipe task or the field is absent.
func (t Task) SubRecipeName() string {
	name, _ := t.Payload["sub_recipe_name"].(string)
	return name
}

// SequentialWhenRepeated reports whether the scheduler must serialize
// this task against other tasks sharing the same sub-recipe name.
func (t Task) SequentialWhenRepeated() bool {
	v, _ := t.Payload["sequential_when_repeated"].(bool)
	return v
}

// Status is the closed taxonomy a Result settles into.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the outcome of running one Task.
type Result struct {
	TaskID string
	Status Status
	Data   any    // set only when Status == StatusCompleted
	Error  string // set only when Status == StatusFailed
}

func completed(taskID string, data any) Result {
	return Result{TaskID: taskID, Status: StatusCompleted, Data: data}
}

func failed(taskID string, err string) Result {
	return Result{TaskID: taskID, Status: StatusFailed, Error: err}
}
