package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/scriptgen/script"
)

func testConstraints() script.Constraints {
	return script.Constraints{Deterministic: true, MaxRuntimeMs: 5000}
}

func TestExecute_AsyncEntrypoint(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  return "seen:" + input;
};`

	result, err := exec.Execute(context.Background(), code, "payload", testConstraints())
	require.NoError(t, err)
	assert.Equal(t, "seen:payload", result.Output)
	assert.Equal(t, "seen:payload", result.Value)
}

func TestExecute_ObjectExport(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `async function transform(input) { return input + input; }
module.exports = { transform };`

	result, err := exec.Execute(context.Background(), code, "ab", testConstraints())
	require.NoError(t, err)
	assert.Equal(t, "abab", result.Output)
}

func TestExecute_ObjectInputAndOutput(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  return { patient: input.payload, count: 2 };
};`

	result, err := exec.Execute(context.Background(), code, map[string]any{"payload": "p-1"}, testConstraints())
	require.NoError(t, err)
	assert.JSONEq(t, `{"patient": "p-1", "count": 2}`, result.Output)
}

func TestExecute_ConsoleCaptured(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  console.log("plain line");
  console.warn("warning line");
  return input;
};`

	result, err := exec.Execute(context.Background(), code, "x", testConstraints())
	require.NoError(t, err)
	require.Len(t, result.Console, 2)
	assert.Equal(t, "plain line", result.Console[0])
	assert.Equal(t, "[warn] warning line", result.Console[1])
}

func TestExecute_Timeout(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  while (true) {}
};`

	_, err := exec.Execute(context.Background(), code, "x", script.Constraints{MaxRuntimeMs: 250})
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestExecute_ContextCancellation(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  while (true) {}
};`

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := exec.Execute(ctx, code, "x", testConstraints())
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExecute_ThrowWrapped(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  throw new Error("bad segment");
};`

	_, err := exec.Execute(context.Background(), code, "x", testConstraints())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecution))
	assert.Contains(t, err.Error(), "bad segment")
}

func TestExecute_CompileError(t *testing.T) {
	exec := NewExecutor(Options{})
	_, err := exec.Execute(context.Background(), "module.exports = async function transform(input {", "x", testConstraints())
	assert.True(t, errors.Is(err, ErrCompile))
}

func TestExecute_NoEntrypoint(t *testing.T) {
	exec := NewExecutor(Options{})
	_, err := exec.Execute(context.Background(), "const a = 1;", "x", testConstraints())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecution))
	assert.Contains(t, err.Error(), script.EntrypointName)
}

func TestExecute_RequireGating(t *testing.T) {
	exec := NewExecutor(Options{})

	tests := []struct {
		name   string
		module string
	}{
		{"filesystem", "fs"},
		{"network", "http"},
		{"banned", "child_process"},
		{"unknown", "left-pad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := `const m = require('` + tt.module + `');
module.exports = async function transform(input) { return input; };`
			_, err := exec.Execute(context.Background(), code, "x", testConstraints())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrExecution))
		})
	}
}

func TestExecute_HostModuleInjected(t *testing.T) {
	exec := NewExecutor(Options{Modules: map[string]any{
		"segments": map[string]any{"separator": "|"},
	}})
	code := `const seg = require('segments');
module.exports = async function transform(input) {
  return input.split(seg.separator)[0];
};`

	result, err := exec.Execute(context.Background(), code, "MSH|rest", testConstraints())
	require.NoError(t, err)
	assert.Equal(t, "MSH", result.Output)
}

func TestExecute_AllowFilesystemPermitsInjectedFS(t *testing.T) {
	exec := NewExecutor(Options{Modules: map[string]any{
		"fs": map[string]any{"note": "host stub"},
	}})
	code := `const fs = require('fs');
module.exports = async function transform(input) { return fs.note; };`

	// Gated without the constraint.
	_, err := exec.Execute(context.Background(), code, "x", testConstraints())
	require.Error(t, err)

	// Permitted with it.
	result, err := exec.Execute(context.Background(), code, "x", script.Constraints{AllowFilesystem: true, MaxRuntimeMs: 5000})
	require.NoError(t, err)
	assert.Equal(t, "host stub", result.Output)
}

func TestExecute_TimersRemoved(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  setTimeout(function () {}, 10);
  return input;
};`

	_, err := exec.Execute(context.Background(), code, "x", testConstraints())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setTimeout")
}

func TestExecute_ProcessNeutered(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  return process.platform + ":" + Object.keys(process.env).length;
};`

	result, err := exec.Execute(context.Background(), code, "x", testConstraints())
	require.NoError(t, err)
	assert.Equal(t, "sandbox:0", result.Output)
}

func TestExecute_PendingPromiseRejected(t *testing.T) {
	exec := NewExecutor(Options{})
	code := `module.exports = async function transform(input) {
  await new Promise(function (resolve) { /* never settles */ });
  return input;
};`

	_, err := exec.Execute(context.Background(), code, "x", testConstraints())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecution))
	assert.Contains(t, err.Error(), "did not settle")
}

func TestExecute_FreshContextPerRun(t *testing.T) {
	exec := NewExecutor(Options{})
	writer := `globalThis.shared = "leaked";
module.exports = async function transform(input) { return "ok"; };`
	reader := `module.exports = async function transform(input) {
  return typeof globalThis.shared;
};`

	_, err := exec.Execute(context.Background(), writer, "x", testConstraints())
	require.NoError(t, err)

	result, err := exec.Execute(context.Background(), reader, "x", testConstraints())
	require.NoError(t, err)
	assert.Equal(t, "undefined", result.Output)
}
