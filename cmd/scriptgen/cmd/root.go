package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/scriptgen/engine"
	"github.com/jonwraymond/scriptgen/job"
	jobpg "github.com/jonwraymond/scriptgen/job/postgres"
	"github.com/jonwraymond/scriptgen/llm"
	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/retrieval"
)

var (
	flagBaseURL     string
	flagAPIKey      string
	flagModel       string
	flagDatabaseURL string
	flagGuidanceDir string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "scriptgen",
	Short: "Generate and vet sandboxed integration scripts",
	Long: `scriptgen drives an LLM-backed pipeline that turns natural-language
instructions into validated, sandboxed JavaScript transform scripts.

Generated scripts export a single async transform(input) entry point and
run under a deterministic sandbox with no network, filesystem, or
process access unless explicitly allowed.

Configuration (flags override environment):
  SCRIPTGEN_LLM_BASE_URL   OpenAI-compatible API root (required)
  SCRIPTGEN_LLM_API_KEY    Bearer token for the API
  SCRIPTGEN_LLM_MODEL     Model name (default: ` + llm.DefaultModel + `)
  SCRIPTGEN_DATABASE_URL   Postgres DSN for job records (default: in-memory)
  SCRIPTGEN_GUIDANCE_DIR   Directory of guidance documents to index`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBaseURL, "llm-url", os.Getenv("SCRIPTGEN_LLM_BASE_URL"), "OpenAI-compatible API root")
	pf.StringVar(&flagAPIKey, "llm-key", os.Getenv("SCRIPTGEN_LLM_API_KEY"), "API bearer token")
	pf.StringVar(&flagModel, "model", os.Getenv("SCRIPTGEN_LLM_MODEL"), "generation model")
	pf.StringVar(&flagDatabaseURL, "database-url", os.Getenv("SCRIPTGEN_DATABASE_URL"), "Postgres DSN for job records")
	pf.StringVar(&flagGuidanceDir, "guidance-dir", os.Getenv("SCRIPTGEN_GUIDANCE_DIR"), "directory of guidance documents")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newEngine wires the engine from flags and environment.
func newEngine(logger *slog.Logger) (*engine.Engine, error) {
	if flagBaseURL == "" {
		return nil, fmt.Errorf("an LLM base URL is required (--llm-url or SCRIPTGEN_LLM_BASE_URL)")
	}
	provider, err := llm.NewHTTPProvider(llm.HTTPConfig{
		BaseURL: flagBaseURL,
		APIKey:  flagAPIKey,
		Model:   flagModel,
	})
	if err != nil {
		return nil, err
	}

	var store job.Store
	if flagDatabaseURL != "" {
		pg, err := jobpg.Open(flagDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open job store: %w", err)
		}
		store = pg
	}

	var searcher retrieval.Searcher
	if flagGuidanceDir != "" {
		s, err := loadGuidance(flagGuidanceDir)
		if err != nil {
			return nil, fmt.Errorf("load guidance: %w", err)
		}
		logger.Debug("guidance index loaded", "dir", flagGuidanceDir)
		searcher = s
	}

	return engine.New(engine.Config{
		Provider: provider,
		Store:    store,
		Searcher: searcher,
		Logger:   logger,
	})
}

// loadGuidance indexes every .md/.txt file under dir as a guidance
// document. A filename prefixed with a known message family, like
// "adt-admissions.md", tags the document with that family.
func loadGuidance(dir string) (*retrieval.BleveSearcher, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var docs []retrieval.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".md" && ext != ".txt" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(entry.Name(), ext)
		docs = append(docs, retrieval.Document{
			ID:          base,
			Title:       strings.ReplaceAll(base, "-", " "),
			Text:        string(content),
			MessageType: messageTypePrefix(base),
			Kind:        retrieval.GuidanceKind,
		})
	}
	return retrieval.NewBleveSearcher(docs)
}

func messageTypePrefix(name string) string {
	prefix, _, _ := strings.Cut(strings.ToLower(name), "-")
	for _, mt := range normalize.MessageTypes {
		if prefix == mt {
			return mt
		}
	}
	return ""
}
