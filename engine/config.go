package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonwraymond/scriptgen/job"
	"github.com/jonwraymond/scriptgen/llm"
	"github.com/jonwraymond/scriptgen/retrieval"
	"github.com/jonwraymond/scriptgen/sandbox"
)

// Default engine limits.
const (
	DefaultMaxAttempts   = 3
	DefaultMaxChainDepth = 3
	DefaultQueueCapacity = 128
)

// ErrConfiguration indicates an invalid or incomplete configuration.
var ErrConfiguration = errors.New("engine: configuration error")

// Config holds the configuration for an Engine.
type Config struct {
	// Provider is the structured-generation collaborator.
	// Required.
	Provider llm.Provider

	// Store owns job records. Default: an in-memory store.
	Store job.Store

	// Searcher is the semantic-search collaborator used by context
	// retrieval. Optional; without it only reference snippets are used.
	Searcher retrieval.Searcher

	// Logger is an optional structured logger.
	Logger *slog.Logger

	// SandboxModules maps allow-listed module names to host-provided
	// module values available to generated scripts via require.
	SandboxModules map[string]any

	// MaxAttempts bounds generation attempts per job. Default: 3.
	MaxAttempts int

	// MaxChainDepth bounds resume chains. Default: 3.
	MaxChainDepth int

	// QueueCapacity bounds pending generation jobs. Default: 128.
	QueueCapacity int

	// Backoff overrides the LLM adapter's rate-limit backoff schedule.
	Backoff []time.Duration

	// RecoveryDelay overrides the delay before the adapter's outer
	// recovery cycle.
	RecoveryDelay time.Duration
}

// Validate checks that all required fields are set.
// Returns ErrConfiguration if any required field is missing.
func (c *Config) Validate() error {
	var missing []string
	if c.Provider == nil {
		missing = append(missing, "Provider")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s",
			ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.Store == nil {
		c.Store = job.NewMemoryStore()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxChainDepth <= 0 {
		c.MaxChainDepth = DefaultMaxChainDepth
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
}

// sandboxOptions derives the executor options from the config.
func (c *Config) sandboxOptions() sandbox.Options {
	return sandbox.Options{Modules: c.SandboxModules}
}
