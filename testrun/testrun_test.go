package testrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/scriptgen/sandbox"
	"github.com/jonwraymond/scriptgen/script"
)

const csvSum = `module.exports = async function transform(input) {
  var total = 0;
  var lines = input.split("\n");
  for (var i = 0; i < lines.length; i++) {
    var cols = lines[i].split(",");
    if (cols.length > 1) { total += parseInt(cols[1], 10); }
  }
  return String(total);
};`

func constraints() script.Constraints {
	return script.Constraints{Deterministic: true, MaxRuntimeMs: 5000}
}

func TestRun_AllPass(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Options{})
	cases := []script.TestCase{
		{
			Name:       "two rows",
			Input:      "a,1\nb,2",
			Assertions: []script.Assertion{{Type: script.AssertContains, Value: "3"}},
		},
		{
			Input:      "a,10",
			Assertions: []script.Assertion{{Type: script.AssertEquals, Value: "10"}},
		},
		{
			Input:      "a,5\nb,5",
			Assertions: []script.Assertion{{Type: script.AssertRegex, Value: `^\d+$`}},
		},
	}

	report := Run(context.Background(), exec, csvSum, constraints(), cases)
	assert.True(t, report.Passed)
	require.Len(t, report.Cases, 3)
	assert.Equal(t, "two rows", report.Cases[0].Name)
	assert.Equal(t, "case 2", report.Cases[1].Name)
	for _, c := range report.Cases {
		assert.True(t, c.Passed, c.Name)
	}
}

func TestRun_FailedAssertion(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Options{})
	cases := []script.TestCase{{
		Name:       "wrong sum",
		Input:      "a,1\nb,2",
		Assertions: []script.Assertion{{Type: script.AssertEquals, Value: "4"}},
	}}

	report := Run(context.Background(), exec, csvSum, constraints(), cases)
	assert.False(t, report.Passed)
	require.Len(t, report.Cases, 1)
	assert.False(t, report.Cases[0].Passed)
	assert.Contains(t, report.Cases[0].FailedAssertion, `does not equal "4"`)
	assert.Contains(t, report.Summary(), "wrong sum")
}

func TestRun_FirstFailingAssertionReported(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Options{})
	cases := []script.TestCase{{
		Input: "a,1",
		Assertions: []script.Assertion{
			{Type: script.AssertContains, Value: "zzz"},
			{Type: script.AssertEquals, Value: "also wrong"},
		},
	}}

	report := Run(context.Background(), exec, csvSum, constraints(), cases)
	assert.Contains(t, report.Cases[0].FailedAssertion, `does not contain "zzz"`)
}

func TestRun_NoAssertionsRequireOutput(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Options{})

	report := Run(context.Background(), exec, csvSum, constraints(), []script.TestCase{{Input: "a,1"}})
	assert.True(t, report.Passed)

	emptyScript := `module.exports = async function transform(input) { return ""; };`
	report = Run(context.Background(), exec, emptyScript, constraints(), []script.TestCase{{Input: "x"}})
	assert.False(t, report.Passed)
	assert.Equal(t, "expected non-empty output", report.Cases[0].FailedAssertion)
}

func TestRun_ExecutionErrorRecorded(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Options{})
	code := `module.exports = async function transform(input) { throw new Error("boom"); };`

	report := Run(context.Background(), exec, code, constraints(), []script.TestCase{{Name: "explodes", Input: "x"}})
	assert.False(t, report.Passed)
	assert.Contains(t, report.Cases[0].Error, "boom")
	assert.Contains(t, report.Summary(), "explodes")
}

func TestRun_LaterCasesStillRun(t *testing.T) {
	exec := sandbox.NewExecutor(sandbox.Options{})
	cases := []script.TestCase{
		{Input: "a,1", Assertions: []script.Assertion{{Type: script.AssertEquals, Value: "wrong"}}},
		{Input: "a,1", Assertions: []script.Assertion{{Type: script.AssertEquals, Value: "1"}}},
	}

	report := Run(context.Background(), exec, csvSum, constraints(), cases)
	assert.False(t, report.Passed)
	require.Len(t, report.Cases, 2)
	assert.False(t, report.Cases[0].Passed)
	assert.True(t, report.Cases[1].Passed)
}
