package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/scriptgen/normalize"
	"github.com/jonwraymond/scriptgen/script"
)

var (
	genInstructions string
	genContext      string
	genExpected     string
	genRequestFile  string
	genAttachments  []string
	genTimeoutMs    int
	genAllowNet     bool
	genAllowFS      bool
	genOutput       string
	genSessionID    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a sandboxed transform script from instructions",
	Long: `Generate runs the full pipeline synchronously: normalization,
context retrieval, prompting, validation, and sandbox test runs.

A full request can be supplied as JSON via --request; individual flags
override its fields. The validated descriptor is printed as JSON, or the
bare script when --out is set.

Examples:
  scriptgen generate -i "Parse a CSV and sum column 2"
  scriptgen generate --request request.json --out transform.js
  scriptgen generate -i "Map ADT A01 to a patient record" -a sample.hl7`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringVarP(&genInstructions, "instructions", "i", "", "what the script should do")
	f.StringVar(&genContext, "context", "", "additional context for the generator")
	f.StringVar(&genExpected, "expected", "", "description of the expected output")
	f.StringVar(&genRequestFile, "request", "", "JSON file holding a full generation request")
	f.StringArrayVarP(&genAttachments, "attachment", "a", nil, "file to attach as reference material (repeatable)")
	f.IntVar(&genTimeoutMs, "timeout-ms", 0, "sandbox execution timeout in milliseconds")
	f.BoolVar(&genAllowNet, "allow-network", false, "permit network modules in the sandbox")
	f.BoolVar(&genAllowFS, "allow-filesystem", false, "permit filesystem modules in the sandbox")
	f.StringVar(&genOutput, "out", "", "write the bare script to this file instead of printing the descriptor")
	f.StringVar(&genSessionID, "session", "cli", "session id recorded on the job")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	req, err := buildRequest()
	if err != nil {
		return err
	}

	logger := newLogger()
	eng, err := newEngine(logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	descriptor, err := eng.GenerateOnce(cmd.Context(), genSessionID, "", req)
	if err != nil {
		if verr, ok := script.AsValidationError(err); ok {
			return fmt.Errorf("%s: %s", verr.Code, verr.Message)
		}
		return err
	}

	if genOutput != "" {
		if err := os.WriteFile(genOutput, []byte(descriptor.Code), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, %d lines)\n",
			genOutput, descriptor.Source.ByteLength, descriptor.Source.LineCount)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(descriptor)
}

func buildRequest() (normalize.Request, error) {
	var req normalize.Request
	if genRequestFile != "" {
		data, err := os.ReadFile(genRequestFile)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parse %s: %w", genRequestFile, err)
		}
	}

	if genInstructions != "" {
		req.Instructions = genInstructions
	}
	if genContext != "" {
		req.AdditionalContext = genContext
	}
	if genExpected != "" {
		req.ExpectedOutputDescription = genExpected
	}
	if genTimeoutMs > 0 || genAllowNet || genAllowFS {
		c := script.Constraints{Deterministic: true, MaxRuntimeMs: genTimeoutMs}
		if req.Constraints != nil {
			c = *req.Constraints
			if genTimeoutMs > 0 {
				c.MaxRuntimeMs = genTimeoutMs
			}
		}
		c.AllowNetwork = c.AllowNetwork || genAllowNet
		c.AllowFilesystem = c.AllowFilesystem || genAllowFS
		req.Constraints = &c
	}

	for _, path := range genAttachments {
		content, err := os.ReadFile(path)
		if err != nil {
			return req, err
		}
		req.Attachments = append(req.Attachments, normalize.Attachment{
			Filename: filepath.Base(path),
			Content:  string(content),
		})
	}
	return req, nil
}
