package task

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTerminationGrace is how long terminate waits after SIGTERM
// before escalating to SIGKILL.
const DefaultTerminationGrace = 5 * time.Second

// InlineRunner executes an inline recipe in-process: a fresh agent runs
// the reply loop against recipe's instructions and returns either its
// final response text (returnLastOnly) or the full transcript. The
// reply package (C8) implements this; Executor depends only on the
// interface so task never imports reply, keeping reply -> task ->
// (interface only) acyclic regardless of which package constructs which.
type InlineRunner interface {
	RunInlineRecipe(ctx context.Context, recipe map[string]any, returnLastOnly bool) (string, error)
}

// Executor runs Tasks with bounded parallelism, serializing same-named
// sub-recipes marked sequential_when_repeated, and multiplexing their
// live stdout through an ExecutionTracker.
type Executor struct {
	tracker      *ExecutionTracker
	gooseBinary  string
	grace        time.Duration
	inline       InlineRunner
	sem          chan struct{}
	nameLocksMu  sync.Mutex
	nameLocks    map[string]*sync.Mutex
}

// NewExecutor builds an Executor. maxParallel <= 0 means unbounded.
// gooseBinary is the executable sub-recipe tasks spawn ("goose" by
// default); inline may be nil until the owning agent wires it via
// SetInlineRunner.
func NewExecutor(tracker *ExecutionTracker, gooseBinary string, maxParallel int, inline InlineRunner) *Executor {
	if gooseBinary == "" {
		gooseBinary = "goose"
	}
	var sem chan struct{}
	if maxParallel > 0 {
		sem = make(chan struct{}, maxParallel)
	}
	return &Executor{
		tracker:     tracker,
		gooseBinary: gooseBinary,
		grace:       DefaultTerminationGrace,
		inline:      inline,
		sem:         sem,
		nameLocks:   make(map[string]*sync.Mutex),
	}
}

// SetInlineRunner wires the inline-recipe execution path after
// construction, letting the owning agent build its Executor before its
// own reply loop exists.
func (e *Executor) SetInlineRunner(r InlineRunner) { e.inline = r }

func (e *Executor) nameLock(name string) *sync.Mutex {
	e.nameLocksMu.Lock()
	defer e.nameLocksMu.Unlock()
	l, ok := e.nameLocks[name]
	if !ok {
		l = &sync.Mutex{}
		e.nameLocks[name] = l
	}
	return l
}

// RunTasks runs every task concurrently up to the configured
// parallelism limit and returns one Result per task, in the same order
// as tasks. Cancelling ctx propagates to every in-flight task: live
// child processes are killed (SIGTERM, escalating to SIGKILL after
// DefaultTerminationGrace) and unstarted tasks are returned as Failed
// without ever spawning.
func (e *Executor) RunTasks(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			results[i] = e.runOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait() // runOne never returns an error; failures live in Result
	return results
}

func (e *Executor) runOne(ctx context.Context, t Task) Result {
	if e.sem != nil {
		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-ctx.Done():
			return failed(t.ID, "cancelled before scheduling")
		}
	}

	if t.Type == TypeSubRecipe && t.SequentialWhenRepeated() {
		lock := e.nameLock(t.SubRecipeName())
		lock.Lock()
		defer lock.Unlock()
	}

	select {
	case <-ctx.Done():
		return failed(t.ID, "cancelled")
	default:
	}

	switch t.Type {
	case TypeInlineRecipe:
		return e.runInlineRecipe(ctx, t)
	case TypeSubRecipe:
		return e.runSubRecipe(ctx, t)
	default:
		return failed(t.ID, fmt.Sprintf("unknown task type %q", t.Type))
	}
}

func (e *Executor) runInlineRecipe(ctx context.Context, t Task) Result {
	if e.inline == nil {
		return failed(t.ID, "no inline recipe runner configured")
	}
	recipe, ok := t.Payload["recipe"].(map[string]any)
	if !ok {
		return failed(t.ID, "missing recipe in inline_recipe task payload")
	}
	returnLastOnly, _ := t.Payload["return_last_only"].(bool)

	text, err := e.inline.RunInlineRecipe(ctx, recipe, returnLastOnly)
	if err != nil {
		return failed(t.ID, fmt.Sprintf("inline recipe execution failed: %v", err))
	}
	return completed(t.ID, map[string]any{"result": text})
}

func (e *Executor) runSubRecipe(ctx context.Context, t Task) Result {
	path, _ := t.Payload["sub_recipe_path"].(string)
	name := t.SubRecipeName()
	if name == "" {
		return failed(t.ID, fmt.Sprintf("task %s: missing sub_recipe_name", t.ID))
	}
	if path == "" {
		return failed(t.ID, fmt.Sprintf("task %s: missing sub_recipe_path", t.ID))
	}
	params, _ := t.Payload["command_parameters"].(map[string]any)

	args := []string{"run", "--recipe", path, "--no-session"}
	for k, v := range params {
		args = append(args, "--params", fmt.Sprintf("%s=%v", k, v))
	}

	cmd := exec.Command(e.gooseBinary, args...)
	setupProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return failed(t.ID, fmt.Sprintf("failed to create stdout pipe: %v", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return failed(t.ID, fmt.Sprintf("failed to create stderr pipe: %v", err))
	}

	if err := cmd.Start(); err != nil {
		return failed(t.ID, fmt.Sprintf("failed to spawn %s: %v", e.gooseBinary, err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	var stdoutBuf, stderrBuf strings.Builder
	go func() {
		defer wg.Done()
		e.readLines(stdout, t.ID, false, &stdoutBuf)
	}()
	go func() {
		defer wg.Done()
		e.readLines(stderr, t.ID, true, &stderrBuf)
	}()

	done := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		terminate(cmd, e.grace, done)
		wg.Wait()
		return failed(t.ID, "task cancelled")
	case <-done:
	}
	wg.Wait()

	if waitErr != nil {
		return failed(t.ID, fmt.Sprintf("command failed:\n%s", stderrBuf.String()))
	}
	return completed(t.ID, processOutput(stdoutBuf.String()))
}

func (e *Executor) readLines(r io.Reader, taskID string, isStderr bool, buf *strings.Builder) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := stripANSI(scanner.Text())
		buf.WriteString(line)
		buf.WriteByte('\n')
		if !isStderr && e.tracker != nil {
			e.tracker.SendLiveOutput(taskID, line)
		}
	}
}

// processOutput extracts the last non-empty stdout line and, if it
// contains a parseable JSON object, returns that object's raw text;
// otherwise it falls back to the full stdout.
func processOutput(stdout string) any {
	lines := strings.Split(stdout, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = lines[i]
			break
		}
	}
	if js, ok := extractJSONObject(last); ok {
		return js
	}
	return stdout
}

// extractJSONObject returns the substring between the first "{" and
// last "}" in line if it parses as valid JSON.
func extractJSONObject(line string) (string, bool) {
	start := strings.IndexByte(line, '{')
	end := strings.LastIndexByte(line, '}')
	if start < 0 || end < 0 || start >= end {
		return "", false
	}
	candidate := line[start : end+1]
	var v any
	if json.Unmarshal([]byte(candidate), &v) != nil {
		return "", false
	}
	return candidate, true
}
