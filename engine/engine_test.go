package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/scriptgen/job"
	"github.com/jonwraymond/scriptgen/llm"
	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/script"
)

const validModule = `module.exports = async function transform(input) {
  var total = 0;
  var lines = String(input && input.payload !== undefined ? input.payload : input).split("\n");
  for (var i = 0; i < lines.length; i++) {
    var cols = lines[i].split(",");
    if (cols.length > 1) { total += parseInt(cols[1], 10); }
  }
  return String(total);
};`

const notAsyncModule = `module.exports = function transform(input) { return input; };`

// providerFunc adapts a function to llm.Provider.
type providerFunc func(ctx context.Context, prompt string, meta llm.Metadata) (any, error)

func (f providerFunc) GenerateStructuredOutput(ctx context.Context, prompt string, meta llm.Metadata) (any, error) {
	return f(ctx, prompt, meta)
}

func codeResponse(code string) any {
	return map[string]any{"code": code}
}

func staticProvider(code string) providerFunc {
	return func(ctx context.Context, prompt string, meta llm.Metadata) (any, error) {
		return codeResponse(code), nil
	}
}

// sequenceProvider replays responses in order, repeating the last one.
func sequenceProvider(responses ...any) providerFunc {
	i := 0
	return func(ctx context.Context, prompt string, meta llm.Metadata) (any, error) {
		r := responses[i]
		if i < len(responses)-1 {
			i++
		}
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r, nil
	}
}

func newTestEngine(t *testing.T, provider llm.Provider) *Engine {
	t.Helper()
	eng, err := New(Config{
		Provider:      provider,
		Backoff:       []time.Duration{time.Millisecond},
		RecoveryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)
	return eng
}

func waitTerminal(t *testing.T, eng *Engine, sessionID, jobID string) *job.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		j, err := eng.GetJob(context.Background(), sessionID, jobID)
		require.NoError(t, err)
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status", jobID)
	return nil
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "Provider")
}

func TestCreateVettedJob(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	j, err := eng.CreateVettedJob(context.Background(), "sess-1", "user-1",
		"module.exports = async function transform(input) { return input; };", 0, nil)
	require.NoError(t, err)

	assert.Equal(t, job.KindVettedScript, j.Kind)
	assert.Equal(t, job.StatusQueued, j.Status)
	assert.False(t, j.Vetted.Diagnostics.ExecutionEnabled)
	assert.Empty(t, j.Vetted.Warnings)

	// Vetted jobs never run: status stays queued.
	time.Sleep(20 * time.Millisecond)
	got, err := eng.GetJob(context.Background(), "sess-1", j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, got.Status)
}

func TestCreateVettedJob_MissingSource(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	_, err := eng.CreateVettedJob(context.Background(), "sess-1", "", "   ", 0, nil)
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "missing_source", verr.Code)
}

func TestCreateVettedJob_SourceTooLarge(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	_, err := eng.CreateVettedJob(context.Background(), "sess-1", "",
		strings.Repeat("x", MaxVettedSourceBytes+1), 0, nil)
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "source_too_large", verr.Code)
}

func TestCreateVettedJob_MissingEntrypointWarning(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	j, err := eng.CreateVettedJob(context.Background(), "sess-1", "", "const x = 1;", 0, nil)
	require.NoError(t, err)
	require.NotEmpty(t, j.Vetted.Warnings)
	assert.Contains(t, j.Vetted.Warnings[0], script.EntrypointName)
}

func TestCreateGenerationJob_EndToEnd(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	j, err := eng.CreateGenerationJob(context.Background(), "sess-1", "user-1", normalize.Request{
		Instructions: "Parse a CSV and sum column 2",
		TestCases: []script.TestCase{{
			Input:      "a,1\nb,2",
			Assertions: []script.Assertion{{Type: script.AssertContains, Value: "3"}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, j.Status)

	final := waitTerminal(t, eng, "sess-1", j.ID)
	require.Equal(t, job.StatusSucceeded, final.Status)
	require.NotNil(t, final.Generation.Result)
	assert.Equal(t, script.EntrypointName, final.Generation.Result.Entrypoint)
	assert.Equal(t, script.Runtime, final.Generation.Result.Runtime)
	assert.True(t, final.Generation.Result.Validation.SyntaxValid)
	assert.Equal(t, 1, final.Generation.Attempts)
	assert.Equal(t, job.StageCompleted, final.Generation.Progress.Stage)
}

func TestCreateGenerationJob_NormalizationErrorCreatesNoJob(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	_, err := eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{})
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "missing_instructions", verr.Code)

	jobs, err := eng.ListJobsForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestGetJob_SessionOwnership(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	j, err := eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "parse"})
	require.NoError(t, err)
	waitTerminal(t, eng, "sess-1", j.ID)

	_, err = eng.GetJob(context.Background(), "other-session", j.ID)
	assert.True(t, errors.Is(err, job.ErrNotFound), "foreign jobs present as not found")

	_, err = eng.GetJob(context.Background(), "sess-1", "no-such-job")
	assert.True(t, errors.Is(err, job.ErrNotFound))
}

func TestListJobsForSession(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	first, err := eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "parse one"})
	require.NoError(t, err)
	second, err := eng.CreateVettedJob(context.Background(), "sess-1", "", validModule, 0, nil)
	require.NoError(t, err)
	waitTerminal(t, eng, "sess-1", first.ID)

	jobs, err := eng.ListJobsForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	ids := map[string]bool{}
	for _, j := range jobs {
		ids[j.ID] = true
	}
	assert.True(t, ids[first.ID])
	assert.True(t, ids[second.ID])
}

func TestEngine_QueueFullAndClose(t *testing.T) {
	release := make(chan struct{})
	provider := providerFunc(func(ctx context.Context, prompt string, meta llm.Metadata) (any, error) {
		<-release
		return codeResponse(validModule), nil
	})

	eng, err := New(Config{
		Provider:      provider,
		QueueCapacity: 1,
	})
	require.NoError(t, err)

	// First job occupies the worker.
	inFlight, err := eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "one"})
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	// Second job fills the queue; third overflows it.
	queued, err := eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "two"})
	require.NoError(t, err)
	_, err = eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "three"})
	assert.True(t, errors.Is(err, ErrQueueFull))

	close(release)
	waitTerminal(t, eng, "sess-1", inFlight.ID)
	waitTerminal(t, eng, "sess-1", queued.ID)

	eng.Close()
	_, err = eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "four"})
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestGenerateOnce(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	descriptor, err := eng.GenerateOnce(context.Background(), "sess-1", "", normalize.Request{
		Instructions: "Parse a CSV and sum column 2",
	})
	require.NoError(t, err)
	assert.Equal(t, validModule, descriptor.Code)
	assert.NotEmpty(t, descriptor.Source.Hash)

	// The audit record is stored too.
	jobs, err := eng.ListJobsForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.StatusSucceeded, jobs[0].Status)
}

func TestGenerateOnce_FailureSurfacesCode(t *testing.T) {
	eng := newTestEngine(t, staticProvider(notAsyncModule))

	_, err := eng.GenerateOnce(context.Background(), "sess-1", "", normalize.Request{Instructions: "parse"})
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "entrypoint_not_async", verr.Code)
	assert.Equal(t, DefaultMaxAttempts, verr.Detail("attempts"))
}
