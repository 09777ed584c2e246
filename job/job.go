package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/script"
)

// Kind discriminates the job union.
type Kind string

// Job kinds.
const (
	// KindVettedScript is a caller-supplied script stored for manual
	// review. It is never executed automatically.
	KindVettedScript Kind = "vetted-script"

	// KindGeneration is a full generation-pipeline job.
	KindGeneration Kind = "generate"
)

// Status is the lifecycle state of a job.
type Status string

// Job statuses.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Stage is the fine-grained progress marker of a generation job.
type Stage string

// Generation progress stages.
const (
	StageQueued            Stage = "queued"
	StageCollectingContext Stage = "collecting-context"
	StagePrompting         Stage = "prompting"
	StageRepairing         Stage = "repairing"
	StageValidating        Stage = "validating"
	StageTesting           Stage = "testing"
	StageCompleted         Stage = "completed"
)

// WarningsCap bounds the generation warnings ring buffer. Appending beyond
// the cap drops the oldest entries.
const WarningsCap = 6

// DefaultVettedTimeoutMs is the timeout recorded on vetted-script jobs.
const DefaultVettedTimeoutMs = 5000

// Progress reports where a generation job is in its pipeline.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// Failure records why a job terminated in StatusFailed.
type Failure struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// VettedDiagnostics marks the deliberate execution deferral of vetted jobs.
type VettedDiagnostics struct {
	ExecutionEnabled bool `json:"executionEnabled"`
}

// Vetted holds the kind-specific state of a vetted-script job.
type Vetted struct {
	// Source summarizes the stored script; the full text lives with the
	// reviewer workflow, not the job record.
	Source script.SourceInfo `json:"source"`

	// TimeoutMs is the execution timeout a reviewer would run under.
	TimeoutMs int `json:"timeoutMs"`

	// Metadata carries optional caller-supplied labels.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Result is always nil: execution is deferred to manual review.
	Result any `json:"result"`

	// Warnings collected while storing the script.
	Warnings []string `json:"warnings,omitempty"`

	// Diagnostics always reports ExecutionEnabled=false.
	Diagnostics VettedDiagnostics `json:"diagnostics"`
}

// Generation holds the kind-specific state of a generation job.
type Generation struct {
	// Progress is advanced by the worker as the pipeline runs.
	Progress Progress `json:"progress"`

	// Attempts counts completed generation attempts.
	Attempts int `json:"attempts"`

	// Warnings is a ring buffer capped at WarningsCap, newest kept.
	Warnings []string `json:"warnings,omitempty"`

	// Result is the final descriptor of a succeeded job.
	Result *script.Descriptor `json:"result,omitempty"`

	// Error is the terminal failure of a failed job.
	Error *Failure `json:"error,omitempty"`

	// Input is immutable once attached; a resume produces a new input on
	// a new job.
	Input *normalize.Input `json:"normalizedInput"`

	// ContinuedFromJobID links a resumed job back into its repair chain.
	ContinuedFromJobID string `json:"continuedFromJobId,omitempty"`
}

// Job is one tool job record.
type Job struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId,omitempty"`
	Kind      Kind      `json:"type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Exactly one of the following is set, matching Kind.
	Vetted     *Vetted     `json:"vetted,omitempty"`
	Generation *Generation `json:"generation,omitempty"`
}

// NewVetted creates a queued vetted-script job. Vetted jobs never
// transition further automatically.
func NewVetted(sessionID, userID, source string, timeoutMs int, metadata map[string]string) *Job {
	if timeoutMs <= 0 {
		timeoutMs = DefaultVettedTimeoutMs
	}
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Kind:      KindVettedScript,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Vetted: &Vetted{
			Source:      script.NewSourceInfo(source),
			TimeoutMs:   timeoutMs,
			Metadata:    metadata,
			Diagnostics: VettedDiagnostics{ExecutionEnabled: false},
		},
	}
}

// NewGeneration creates a queued generation job for a normalized input.
// continuedFrom links the job into a repair chain; empty for fresh jobs.
func NewGeneration(sessionID, userID string, input *normalize.Input, continuedFrom string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Kind:      KindGeneration,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		Generation: &Generation{
			Progress:           Progress{Stage: StageQueued},
			Input:              input,
			ContinuedFromJobID: continuedFrom,
		},
	}
}

// SetStatus transitions the job and stamps UpdatedAt.
func (j *Job) SetStatus(s Status) {
	j.Status = s
	j.UpdatedAt = time.Now().UTC()
}

// SetProgress advances a generation job's progress and stamps UpdatedAt.
// It is a no-op for other kinds.
func (j *Job) SetProgress(stage Stage, message string, attempt int) {
	if j.Generation == nil {
		return
	}
	j.Generation.Progress = Progress{Stage: stage, Message: message, Attempt: attempt}
	j.UpdatedAt = time.Now().UTC()
}

// AppendWarning appends to the job's warnings, enforcing the ring-buffer
// cap on generation jobs by dropping the oldest entries.
func (j *Job) AppendWarning(warning string) {
	switch j.Kind {
	case KindVettedScript:
		if j.Vetted != nil {
			j.Vetted.Warnings = append(j.Vetted.Warnings, warning)
		}
	case KindGeneration:
		if j.Generation != nil {
			j.Generation.Warnings = append(j.Generation.Warnings, warning)
			if excess := len(j.Generation.Warnings) - WarningsCap; excess > 0 {
				j.Generation.Warnings = append([]string(nil), j.Generation.Warnings[excess:]...)
			}
		}
	}
}

// Clone returns a deep copy of the job. Stores hand out clones so that
// worker mutations and caller reads never share memory.
func (j *Job) Clone() *Job {
	out := *j
	if j.Vetted != nil {
		v := *j.Vetted
		v.Metadata = cloneMap(j.Vetted.Metadata)
		v.Warnings = append([]string(nil), j.Vetted.Warnings...)
		out.Vetted = &v
	}
	if j.Generation != nil {
		g := *j.Generation
		g.Warnings = append([]string(nil), j.Generation.Warnings...)
		if j.Generation.Result != nil {
			r := *j.Generation.Result
			g.Result = &r
		}
		if j.Generation.Error != nil {
			e := *j.Generation.Error
			e.Details = cloneAnyMap(j.Generation.Error.Details)
			g.Error = &e
		}
		if j.Generation.Input != nil {
			in := *j.Generation.Input
			g.Input = &in
		}
		out.Generation = &g
	}
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
