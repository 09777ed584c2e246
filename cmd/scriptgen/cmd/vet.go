package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/scriptgen/script"
)

var (
	vetTimeoutMs int
	vetSessionID string
)

var vetCmd = &cobra.Command{
	Use:   "vet <script.js>",
	Short: "Store a hand-written script for manual review",
	Long: `Vet records a caller-supplied script as a vetted-script job. The
script is summarized and stored but never executed; execution stays
deferred to a manual review workflow.`,
	Args: cobra.ExactArgs(1),
	RunE: runVet,
}

func init() {
	f := vetCmd.Flags()
	f.IntVar(&vetTimeoutMs, "timeout-ms", 0, "execution timeout a reviewer would run under")
	f.StringVar(&vetSessionID, "session", "cli", "session id recorded on the job")
	rootCmd.AddCommand(vetCmd)
}

func runVet(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	logger := newLogger()
	eng, err := newEngine(logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	j, err := eng.CreateVettedJob(cmd.Context(), vetSessionID, "", string(source),
		vetTimeoutMs, map[string]string{"filename": args[0]})
	if err != nil {
		if verr, ok := script.AsValidationError(err); ok {
			return fmt.Errorf("%s: %s", verr.Code, verr.Message)
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(j)
}
