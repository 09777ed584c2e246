package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/scriptgen/job"
	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/script"
)

// failedJob creates a generation job that exhausts its attempts.
func failedJob(t *testing.T, eng *Engine, sessionID string) *job.Job {
	t.Helper()
	j, err := eng.CreateGenerationJob(context.Background(), sessionID, "", normalize.Request{
		Instructions: "parse the feed",
	})
	require.NoError(t, err)
	final := waitTerminal(t, eng, sessionID, j.ID)
	require.Equal(t, job.StatusFailed, final.Status)
	return final
}

func TestResume_CreatesLinkedJob(t *testing.T) {
	eng := newTestEngine(t, staticProvider(notAsyncModule))
	failed := failedJob(t, eng, "sess-1")

	resumed, err := eng.Resume(context.Background(), "sess-1", failed.ID, ResumeRequest{
		Instructions: "declare the entry point async",
	})
	require.NoError(t, err)

	assert.Equal(t, failed.ID, resumed.Generation.ContinuedFromJobID)
	assert.Contains(t, resumed.Generation.Input.Instructions, "parse the feed")
	assert.Contains(t, resumed.Generation.Input.Instructions, "Repair guidance:")
	assert.Contains(t, resumed.Generation.Input.Instructions, "declare the entry point async")

	// The original job is untouched.
	orig, err := eng.GetJob(context.Background(), "sess-1", failed.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, orig.Status)
	assert.NotContains(t, orig.Generation.Input.Instructions, "Repair guidance:")

	waitTerminal(t, eng, "sess-1", resumed.ID)
}

func TestResume_GuidanceOverrides(t *testing.T) {
	eng := newTestEngine(t, staticProvider(notAsyncModule))
	failed := failedJob(t, eng, "sess-1")

	resumed, err := eng.Resume(context.Background(), "sess-1", failed.ID, ResumeRequest{
		AdditionalContext: "replacement context",
		TestCases: []script.TestCase{{
			Input:      "a,1",
			Assertions: []script.Assertion{{Type: script.AssertEquals, Value: "1"}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "replacement context", resumed.Generation.Input.AdditionalContext)
	assert.Len(t, resumed.Generation.Input.TestCases, 1)

	waitTerminal(t, eng, "sess-1", resumed.ID)
}

func TestResume_ChainDepthCapped(t *testing.T) {
	eng := newTestEngine(t, staticProvider(notAsyncModule))

	current := failedJob(t, eng, "sess-1")
	for i := 1; i < DefaultMaxChainDepth; i++ {
		resumed, err := eng.Resume(context.Background(), "sess-1", current.ID, ResumeRequest{})
		require.NoError(t, err, "resume %d", i)
		current = waitTerminal(t, eng, "sess-1", resumed.ID)
		require.Equal(t, job.StatusFailed, current.Status)
	}

	before, err := eng.ListJobsForSession(context.Background(), "sess-1")
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), "sess-1", current.ID, ResumeRequest{})
	verr, ok := script.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "repair_limit_reached", verr.Code)

	// Refusal creates no job.
	after, err := eng.ListJobsForSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestResume_OnlyFailedGenerationJobs(t *testing.T) {
	eng := newTestEngine(t, staticProvider(validModule))

	ok, err := eng.CreateGenerationJob(context.Background(), "sess-1", "", normalize.Request{Instructions: "parse"})
	require.NoError(t, err)
	succeeded := waitTerminal(t, eng, "sess-1", ok.ID)
	require.Equal(t, job.StatusSucceeded, succeeded.Status)

	_, err = eng.Resume(context.Background(), "sess-1", succeeded.ID, ResumeRequest{})
	verr, isVErr := script.AsValidationError(err)
	require.True(t, isVErr)
	assert.Equal(t, "not_resumable", verr.Code)

	vetted, err := eng.CreateVettedJob(context.Background(), "sess-1", "", validModule, 0, nil)
	require.NoError(t, err)
	_, err = eng.Resume(context.Background(), "sess-1", vetted.ID, ResumeRequest{})
	verr, isVErr = script.AsValidationError(err)
	require.True(t, isVErr)
	assert.Equal(t, "not_resumable", verr.Code)
}

func TestResume_ForeignSessionNotFound(t *testing.T) {
	eng := newTestEngine(t, staticProvider(notAsyncModule))
	failed := failedJob(t, eng, "sess-1")

	_, err := eng.Resume(context.Background(), "other-session", failed.ID, ResumeRequest{})
	assert.ErrorIs(t, err, job.ErrNotFound)
}
