package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/jonwraymond/scriptgen/script"
)

// Sentinel errors for error classification.
var (
	// ErrCompile indicates the script failed to compile. Validation
	// normally catches this first.
	ErrCompile = errors.New("sandbox: compile error")

	// ErrExecution indicates the script threw or rejected.
	ErrExecution = errors.New("sandbox: execution error")

	// ErrTimeout indicates the script exceeded its maximum runtime.
	ErrTimeout = errors.New("sandbox: timeout")
)

// Module surfaces gated by the execution constraints. Mirrors the
// validator's scan lists so policy cannot drift between the two.
var (
	filesystemModules = map[string]bool{"fs": true, "fs/promises": true, "path": true}
	networkModules    = map[string]bool{"http": true, "https": true, "net": true, "dns": true, "tls": true, "dgram": true}
	bannedModules     = map[string]bool{"child_process": true, "worker_threads": true, "cluster": true, "vm": true, "os": true}
)

// Result is the outcome of one sandboxed execution.
type Result struct {
	// Value is the settled value returned by the entry point.
	Value any `json:"value,omitempty"`

	// Output is the stringified value used by assertion evaluation.
	Output string `json:"output"`

	// Console holds the captured console lines in emission order.
	Console []string `json:"console,omitempty"`

	// DurationMs is the execution time in milliseconds.
	DurationMs int64 `json:"durationMs"`
}

// Options configures an Executor.
type Options struct {
	// Modules maps allow-listed module names to host-provided module
	// values returned by require. Gating by constraints still applies.
	Modules map[string]any

	// DefaultTimeout bounds executions whose constraints carry no
	// runtime limit. Default: 5s.
	DefaultTimeout time.Duration
}

// Executor runs scripts in fresh, isolated VM contexts.
//
// Contract:
// - Concurrency: safe for concurrent use; every call builds its own VM.
// - Context: honors cancellation via VM interrupt.
// - Errors: compile failures wrap ErrCompile, throws/rejections wrap
//   ErrExecution, runtime-limit hits wrap ErrTimeout.
type Executor struct {
	opts Options
}

// NewExecutor creates an Executor.
func NewExecutor(opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 5 * time.Second
	}
	return &Executor{opts: opts}
}

// Execute runs the script's entry point with a single input value under
// the given constraints. Each call gets a fresh global context.
func (e *Executor) Execute(ctx context.Context, code string, input any, constraints script.Constraints) (Result, error) {
	timeout := e.opts.DefaultTimeout
	if constraints.MaxRuntimeMs > 0 {
		timeout = time.Duration(constraints.MaxRuntimeMs) * time.Millisecond
	}

	vm := goja.New()
	console := installGlobals(vm, constraints, e.opts.Modules)

	prog, err := goja.Compile("script.js", code, false)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	// Interrupt on timeout or context cancellation.
	done := make(chan struct{})
	defer close(done)
	timer := time.AfterFunc(timeout, func() { vm.Interrupt("maximum runtime exceeded") })
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("canceled")
		case <-done:
		}
	}()

	start := time.Now()
	result, execErr := run(vm, prog, input)
	result.DurationMs = time.Since(start).Milliseconds()
	result.Console = console.lines

	if execErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(execErr, &interrupted) {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, fmt.Errorf("%w: after %v", ErrTimeout, timeout)
		}
		return result, execErr
	}
	return result, nil
}

func run(vm *goja.Runtime, prog *goja.Program, input any) (Result, error) {
	moduleObj := vm.Get("module").ToObject(vm)

	if _, err := vm.RunProgram(prog); err != nil {
		return Result{}, wrapJSError(err)
	}

	entry, err := resolveEntry(vm, moduleObj)
	if err != nil {
		return Result{}, err
	}

	value, err := entry(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return Result{}, wrapJSError(err)
	}

	if promise, ok := value.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			value = promise.Result()
		case goja.PromiseStateRejected:
			return Result{}, fmt.Errorf("%w: rejected: %s", ErrExecution, promise.Result().String())
		default:
			return Result{}, fmt.Errorf("%w: asynchronous work did not settle inside the sandbox", ErrExecution)
		}
	}

	exported := value.Export()
	return Result{Value: exported, Output: stringify(value, exported)}, nil
}

// resolveEntry accepts either a function export or an object export
// carrying the named entry point.
func resolveEntry(vm *goja.Runtime, moduleObj *goja.Object) (goja.Callable, error) {
	exportsVal := moduleObj.Get("exports")
	if fn, ok := goja.AssertFunction(exportsVal); ok {
		return fn, nil
	}
	if obj := exportsVal.ToObject(vm); obj != nil {
		if fn, ok := goja.AssertFunction(obj.Get(script.EntrypointName)); ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: module does not export a callable %s entry point", ErrExecution, script.EntrypointName)
}

func wrapJSError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return fmt.Errorf("%w: %s", ErrExecution, exception.Value().String())
	}
	return fmt.Errorf("%w: %v", ErrExecution, err)
}

// stringify renders the execution value for assertion evaluation:
// strings verbatim, everything else as JSON.
func stringify(value goja.Value, exported any) string {
	if goja.IsUndefined(value) || goja.IsNull(value) {
		return ""
	}
	if s, ok := exported.(string); ok {
		return s
	}
	if data, err := json.Marshal(exported); err == nil {
		return string(data)
	}
	return value.String()
}

// capturedConsole buffers console output instead of forwarding it.
type capturedConsole struct {
	lines []string
}

func (c *capturedConsole) write(level string, call goja.FunctionCall) goja.Value {
	parts := make([]string, 0, len(call.Arguments)+1)
	if level != "log" {
		parts = append(parts, "["+level+"]")
	}
	for _, arg := range call.Arguments {
		parts = append(parts, arg.String())
	}
	c.lines = append(c.lines, strings.Join(parts, " "))
	return goja.Undefined()
}

// installGlobals builds the restricted global surface: buffering console,
// gated require, neutered process, module/exports scaffolding, and
// throwing timer stubs.
func installGlobals(vm *goja.Runtime, constraints script.Constraints, modules map[string]any) *capturedConsole {
	console := &capturedConsole{}
	consoleObj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		_ = consoleObj.Set(level, func(call goja.FunctionCall) goja.Value {
			return console.write(level, call)
		})
	}
	_ = vm.Set("console", consoleObj)

	moduleObj := vm.NewObject()
	exportsObj := vm.NewObject()
	_ = moduleObj.Set("exports", exportsObj)
	_ = vm.Set("module", moduleObj)
	_ = vm.Set("exports", exportsObj)

	processObj := vm.NewObject()
	_ = processObj.Set("env", vm.NewObject())
	_ = processObj.Set("platform", "sandbox")
	_ = vm.Set("process", processObj)

	_ = vm.Set("require", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		switch {
		case bannedModules[name]:
			panic(vm.NewTypeError("module %q is not available in the sandbox", name))
		case filesystemModules[name] && !constraints.AllowFilesystem:
			panic(vm.NewTypeError("module %q requires filesystem access, which is not allowed", name))
		case networkModules[name] && !constraints.AllowNetwork:
			panic(vm.NewTypeError("module %q requires network access, which is not allowed", name))
		}
		if mod, ok := modules[name]; ok {
			return vm.ToValue(mod)
		}
		panic(vm.NewTypeError("module %q is not available in the sandbox", name))
	})

	for _, timerName := range []string{"setTimeout", "setInterval", "setImmediate", "clearTimeout", "clearInterval"} {
		timerName := timerName
		_ = vm.Set(timerName, func(call goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("%s is removed from the sandbox", timerName))
		})
	}

	return console
}
