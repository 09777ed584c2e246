package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jonwraymond/scriptgen/cmd/scriptgen/cmd"
)

func main() {
	// A missing .env is fine; env vars and flags still apply.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
