package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/scriptgen/script"
)

func deterministic() script.Constraints {
	return script.Constraints{Deterministic: true, MaxRuntimeMs: 5000}
}

func TestCheck_ExportIdioms(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{
			"assigned function",
			"module.exports = async function transform(input) { return input; };",
		},
		{
			"assigned anonymous function",
			"module.exports = async function (input) { return input; };",
		},
		{
			"assigned arrow",
			"module.exports = async (input) => { return input; };",
		},
		{
			"exports property function",
			"exports.transform = async function (input) { return input; };",
		},
		{
			"module.exports property function",
			"module.exports.transform = async function (input) { return input; };",
		},
		{
			"exports property arrow",
			"exports.transform = async (input) => { return input; };",
		},
		{
			"named declaration exported",
			"async function transform(input) { return input; }\nmodule.exports = transform;",
		},
		{
			"named declaration exported in object",
			"async function transform(input) { return input; }\nmodule.exports = { transform };",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Check(tt.code, deterministic())
			require.NoError(t, err)
			assert.True(t, report.SyntaxValid)
			assert.True(t, report.Deterministic)
			assert.Empty(t, report.ForbiddenAPIs)
		})
	}
}

func TestCheck_SyntaxError(t *testing.T) {
	report, err := Check("module.exports = async function transform(input { return input; };", deterministic())
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "syntax_error", verr.Code)
	assert.False(t, report.SyntaxValid)
}

func TestCheck_EntrypointNotExported(t *testing.T) {
	code := "async function helper(input) { return input; }"
	_, err := Check(code, deterministic())
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "entrypoint_not_exported", verr.Code)
	assert.NotEmpty(t, verr.Detail("fragment"))
}

func TestCheck_EntrypointNotAsync(t *testing.T) {
	code := "module.exports = function transform(input) { return input; };"
	_, err := Check(code, deterministic())
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "entrypoint_not_async", verr.Code)

	fragment, _ := verr.Detail("fragment").(string)
	assert.Contains(t, fragment, "module.exports")
}

func TestCheck_EntrypointMissingParameter(t *testing.T) {
	code := "module.exports = async function transform() { return 1; };"
	_, err := Check(code, deterministic())
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "entrypoint_missing_parameter", verr.Code)
}

func TestCheck_EntrypointMissingReturn(t *testing.T) {
	code := "module.exports = async function transform(input) { console.log(input); };"
	_, err := Check(code, deterministic())
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "entrypoint_missing_return", verr.Code)
}

func TestCheck_RepairSentinelSatisfiesReturn(t *testing.T) {
	code := "module.exports = async function transform(input) { console.log(input); };"
	patched, applied := EnsureReturn(code)
	require.True(t, applied)

	report, err := Check(patched, deterministic())
	require.NoError(t, err)
	assert.True(t, report.SyntaxValid)
}

func TestCheck_NonDeterministicCode(t *testing.T) {
	code := `module.exports = async function transform(input) {
  const now = Date.now();
  const id = Math.random();
  return now + ":" + id + ":" + input;
};`
	report, err := Check(code, deterministic())
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "non_deterministic_code", verr.Code)
	assert.False(t, report.Deterministic)

	violations, _ := verr.Detail("violations").([]string)
	assert.ElementsMatch(t, []string{"Date.now", "Math.random"}, violations)
}

func TestCheck_NonDeterminismAllowedWhenNotRequired(t *testing.T) {
	code := "module.exports = async function transform(input) { return Date.now() + input; };"
	report, err := Check(code, script.Constraints{Deterministic: false})
	require.NoError(t, err)
	assert.False(t, report.Deterministic, "report still records the finding")
}

func TestCheck_FilesystemRequireIsWarningNotFailure(t *testing.T) {
	code := `const fs = require('fs');
module.exports = async function transform(input) { return fs.readFileSync(input); };`
	report, err := Check(code, deterministic())
	require.NoError(t, err, "forbidden API scans never hard-fail")
	assert.Contains(t, report.ForbiddenAPIs, "fs")
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "filesystem access is not allowed")
}

func TestCheck_NetworkAllowedSuppressesWarning(t *testing.T) {
	code := `const http = require('http');
module.exports = async function transform(input) { return http ? input : input; };`

	report, err := Check(code, script.Constraints{Deterministic: true, AllowNetwork: true})
	require.NoError(t, err)
	assert.NotContains(t, report.ForbiddenAPIs, "http")

	report, err = Check(code, deterministic())
	require.NoError(t, err)
	assert.Contains(t, report.ForbiddenAPIs, "http")
}

func TestCheck_BannedModulesAlwaysFlagged(t *testing.T) {
	code := `const cp = require('child_process');
module.exports = async function transform(input) { return input; };`
	report, err := Check(code, script.Constraints{AllowNetwork: true, AllowFilesystem: true})
	require.NoError(t, err)
	assert.Contains(t, report.ForbiddenAPIs, "child_process")
}

func TestCheck_ProcessControlFlagged(t *testing.T) {
	code := `module.exports = async function transform(input) {
  if (!input) { process.exit(1); }
  return eval(input);
};`
	report, err := Check(code, deterministic())
	require.NoError(t, err)
	assert.Contains(t, report.ForbiddenAPIs, "process.exit")
	assert.Contains(t, report.ForbiddenAPIs, "eval")
}
