package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/scriptgen/candidate"
	"github.com/jonwraymond/scriptgen/job"
	"github.com/jonwraymond/scriptgen/llm"
	"github.com/jonwraymond/scriptgen/prompt"
	"github.com/jonwraymond/scriptgen/retrieval"
	"github.com/jonwraymond/scriptgen/script"
	"github.com/jonwraymond/scriptgen/testrun"
	"github.com/jonwraymond/scriptgen/validate"
)

// runPipeline executes the full generation pipeline for a job and returns
// its terminal snapshot. Validation failures feed the repair loop; any
// other failure terminates the job immediately.
func (e *Engine) runPipeline(ctx context.Context, j *job.Job) *job.Job {
	j.SetStatus(job.StatusRunning)
	j.SetProgress(job.StageCollectingContext, "assembling context", 0)
	e.persist(j)

	// Context is assembled once per job; repair attempts reuse it so that
	// every attempt prompts against the same reference material.
	snippets := e.assembler.Assemble(ctx, j.Generation.Input)

	var feedback *prompt.Feedback
	var lastVErr *script.ValidationError

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		j.Generation.Attempts = attempt
		stage := job.StagePrompting
		if attempt > 1 {
			stage = job.StageRepairing
		}
		j.SetProgress(stage, fmt.Sprintf("attempt %d of %d", attempt, e.cfg.MaxAttempts), attempt)
		e.persist(j)

		descriptor, err := e.runAttempt(ctx, j, snippets, feedback, attempt)
		if err == nil {
			j.Generation.Result = descriptor
			j.SetProgress(job.StageCompleted, "generation succeeded", attempt)
			j.SetStatus(job.StatusSucceeded)
			e.finish(j)
			return j
		}
		if ctx.Err() != nil {
			e.fail(j, &job.Failure{Code: "cancelled", Message: ctx.Err().Error()})
			return j
		}

		verr, retryable := script.AsValidationError(err)
		if !retryable {
			e.fail(j, terminalFailure(err))
			return j
		}

		lastVErr = verr
		feedback = feedbackFrom(verr)
		j.AppendWarning(fmt.Sprintf("attempt %d failed: %s", attempt, verr.Error()))
		e.cfg.Logger.Info("attempt failed, repairing",
			"jobId", j.ID, "attempt", attempt, "code", verr.Code)
	}

	failure := &job.Failure{
		Code:    "generation_exhausted",
		Message: fmt.Sprintf("no valid script after %d attempts", e.cfg.MaxAttempts),
		Details: map[string]any{"attempts": e.cfg.MaxAttempts},
	}
	if lastVErr != nil {
		failure.Code = lastVErr.Code
		failure.Message = lastVErr.Message
		failure.Details = map[string]any{"attempts": e.cfg.MaxAttempts}
		for k, v := range lastVErr.Details {
			failure.Details[k] = v
		}
	}
	e.fail(j, failure)
	return j
}

// runAttempt performs one prompt/extract/validate/test cycle. A returned
// *script.ValidationError is retryable; everything else terminates the job.
func (e *Engine) runAttempt(ctx context.Context, j *job.Job, snippets []retrieval.Snippet, feedback *prompt.Feedback, attempt int) (*script.Descriptor, error) {
	input := j.Generation.Input
	promptText := prompt.Build(input, snippets, feedback)

	raw, err := e.adapter.Generate(ctx, promptText, llm.Metadata{
		SessionID: j.SessionID,
		JobID:     j.ID,
		Attempt:   attempt,
	})
	if err != nil {
		return nil, err
	}

	cand, err := candidate.Extract(raw)
	if err != nil {
		return nil, err
	}

	code, patched := validate.EnsureReturn(cand.Code)

	j.SetProgress(job.StageValidating, "validating candidate", attempt)
	e.persist(j)

	report, err := validate.Check(code, input.Constraints)
	if err != nil {
		return nil, err
	}

	notes := append([]string(nil), cand.Notes...)
	if patched {
		notes = append(notes, validate.RepairNote)
		j.AppendWarning("structural return patch applied to candidate")
	}
	for _, w := range report.Warnings {
		j.AppendWarning(w)
	}

	descriptor := &script.Descriptor{
		Code:          code,
		Entrypoint:    script.EntrypointName,
		Runtime:       script.Runtime,
		Deterministic: input.Constraints.Deterministic,
		Dependencies:  cand.Dependencies,
		Source:        script.NewSourceInfo(code),
		Validation:    report,
		Notes:         notes,
		Artifacts:     cand.Artifacts,
	}

	if len(input.TestCases) > 0 {
		j.SetProgress(job.StageTesting, "running test cases", attempt)
		e.persist(j)

		testReport := testrun.Run(ctx, e.executor, code, input.Constraints, input.TestCases)
		if !testReport.Passed {
			return nil, script.NewValidationError(
				"test_cases_failed",
				"generated script failed supplied test cases",
				map[string]any{
					"summary": testReport.Summary(),
					"report":  testReport,
				},
			)
		}
	}

	return descriptor, nil
}

// feedbackFrom converts a retryable validation error into repair-prompt
// feedback for the next attempt.
func feedbackFrom(verr *script.ValidationError) *prompt.Feedback {
	fb := &prompt.Feedback{
		Code:    verr.Code,
		Message: verr.Message,
	}
	if violations, ok := verr.Detail("violations").([]string); ok {
		fb.Violations = violations
	}
	if summary, ok := verr.Detail("summary").(string); ok && summary != "" {
		fb.Violations = append(fb.Violations, summary)
	}
	if fragment, ok := verr.Detail("fragment").(string); ok {
		fb.EntrypointFragment = fragment
	}
	if shape, ok := verr.Detail("classificationShape").(bool); ok {
		fb.ClassificationShape = shape
	}
	return fb
}

// terminalFailure maps a non-retryable error to a job failure record.
func terminalFailure(err error) *job.Failure {
	var rateErr *llm.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Terminal {
		return &job.Failure{
			Code:    "rate_limited",
			Message: "generation provider is rate limited; try again later",
			Details: map[string]any{"retryAfterMs": rateErr.RetryAfterMs()},
		}
	}
	if errors.Is(err, llm.ErrGeneration) {
		return &job.Failure{Code: "generation_failed", Message: err.Error()}
	}
	return &job.Failure{Code: "internal_error", Message: err.Error()}
}

// persist writes the current job snapshot, logging rather than failing on
// store errors so a flaky store cannot wedge the worker.
func (e *Engine) persist(j *job.Job) {
	if err := e.store.Put(j); err != nil {
		e.cfg.Logger.Error("persisting job failed", "jobId", j.ID, "error", err)
	}
}

func (e *Engine) finish(j *job.Job) {
	e.persist(j)
	metricJobsCompleted.WithLabelValues(string(j.Status)).Inc()
	metricAttempts.Observe(float64(j.Generation.Attempts))
	e.cfg.Logger.Info("generation succeeded",
		"jobId", j.ID, "attempts", j.Generation.Attempts,
		"bytes", j.Generation.Result.Source.ByteLength)
}

func (e *Engine) fail(j *job.Job, failure *job.Failure) {
	j.Generation.Error = failure
	j.SetStatus(job.StatusFailed)
	e.persist(j)
	metricJobsCompleted.WithLabelValues(string(j.Status)).Inc()
	metricAttempts.Observe(float64(j.Generation.Attempts))
	e.cfg.Logger.Warn("generation failed",
		"jobId", j.ID, "attempts", j.Generation.Attempts, "code", failure.Code)
}
