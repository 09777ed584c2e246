package engine

import (
	"context"
	"fmt"

	"github.com/jonwraymond/scriptgen/job"
	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/script"
)

// ResumeRequest carries the repair guidance for resuming a failed
// generation job. Every field is optional; empty fields fall back to the
// original job's input.
type ResumeRequest struct {
	// Instructions is appended to the original instructions as repair
	// guidance.
	Instructions string `json:"instructions,omitempty"`

	// AdditionalContext replaces the original additional context when set.
	AdditionalContext string `json:"additionalContext,omitempty"`

	// Attachments replace the original attachments when non-empty.
	Attachments []normalize.Attachment `json:"attachments,omitempty"`

	// ReferenceDocuments replace the original caller references when
	// non-empty.
	ReferenceDocuments []normalize.ReferenceDocument `json:"referenceDocuments,omitempty"`

	// TestCases replace the original test cases when non-empty.
	TestCases []script.TestCase `json:"testCases,omitempty"`
}

// Resume creates a new generation job continuing a failed one. The
// original job is never mutated; the new job's input is re-normalized
// from the original request merged with the repair guidance. Chains are
// bounded: once the backlink walk reaches the depth cap, resumption is
// refused with a "repair_limit_reached" validation error and no job is
// created.
func (e *Engine) Resume(ctx context.Context, sessionID, jobID string, req ResumeRequest) (*job.Job, error) {
	prior, err := e.GetJob(ctx, sessionID, jobID)
	if err != nil {
		return nil, err
	}
	if prior.Kind != job.KindGeneration {
		return nil, script.NewValidationError("not_resumable", "only generation jobs can be resumed", nil)
	}
	if prior.Status != job.StatusFailed {
		return nil, script.NewValidationError(
			"not_resumable",
			fmt.Sprintf("job is %s; only failed jobs can be resumed", prior.Status),
			map[string]any{"status": string(prior.Status)},
		)
	}

	depth, err := e.chainDepth(prior)
	if err != nil {
		return nil, err
	}
	if depth >= e.cfg.MaxChainDepth {
		return nil, script.NewValidationError(
			"repair_limit_reached",
			fmt.Sprintf("repair chain already has %d jobs, maximum is %d", depth, e.cfg.MaxChainDepth),
			map[string]any{"depth": depth, "max": e.cfg.MaxChainDepth},
		)
	}

	input, warnings, err := normalize.Normalize(composeResume(prior.Generation.Input, req))
	if err != nil {
		return nil, err
	}

	next := job.NewGeneration(sessionID, prior.UserID, input, prior.ID)
	for _, w := range warnings {
		next.AppendWarning(w)
	}
	if err := e.store.Put(next); err != nil {
		return nil, err
	}
	if err := e.enqueue(next); err != nil {
		return nil, err
	}
	e.cfg.Logger.Info("generation job resumed",
		"jobId", next.ID, "continuedFrom", prior.ID, "chainDepth", depth+1)
	return next.Clone(), nil
}

// chainDepth counts the jobs in a repair chain by walking continued-from
// backlinks. A job without a backlink is a chain of one. A dangling
// backlink stops the walk rather than failing the resume.
func (e *Engine) chainDepth(j *job.Job) (int, error) {
	depth := 1
	current := j
	for current.Generation != nil && current.Generation.ContinuedFromJobID != "" {
		if depth >= e.cfg.MaxChainDepth {
			break
		}
		prev, err := e.store.Get(current.Generation.ContinuedFromJobID)
		if err != nil {
			if err == job.ErrNotFound {
				break
			}
			return 0, err
		}
		depth++
		current = prev
	}
	return depth, nil
}

// composeResume merges the original normalized input with the repair
// guidance into a raw request for re-normalization.
func composeResume(orig *normalize.Input, req ResumeRequest) normalize.Request {
	out := normalize.Request{
		Instructions:              orig.Instructions,
		AdditionalContext:         orig.AdditionalContext,
		ExpectedOutputDescription: orig.ExpectedOutputDescription,
		InputSchema:               schemaCopy(orig.InputSchema),
		Constraints:               constraintsCopy(orig.Constraints),
		ReferenceDocuments:        orig.ReferenceDocuments,
		Attachments:               orig.Attachments,
		TestCases:                 orig.TestCases,
	}

	if req.Instructions != "" {
		out.Instructions = orig.Instructions + "\n\nRepair guidance:\n" + req.Instructions
	}
	if req.AdditionalContext != "" {
		out.AdditionalContext = req.AdditionalContext
	}
	if len(req.Attachments) > 0 {
		out.Attachments = req.Attachments
	}
	if len(req.ReferenceDocuments) > 0 {
		out.ReferenceDocuments = req.ReferenceDocuments
	}
	if len(req.TestCases) > 0 {
		out.TestCases = req.TestCases
	}
	return out
}

func schemaCopy(s normalize.Schema) *normalize.Schema {
	out := s
	return &out
}

func constraintsCopy(c script.Constraints) *script.Constraints {
	out := c
	return &out
}
