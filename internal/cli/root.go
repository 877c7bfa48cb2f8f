// Package cli implements the contextpilot commands.
package cli

import (
	"github.com/spf13/cobra"
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "contextpilot",
	Short: "Personal context store with LLM dispatch",
	Long: "contextpilot stores structured context about you (preferences, decisions,\n" +
		"facts, goals), ranks it against tasks, and dispatches composed prompts to\n" +
		"LLM providers with automatic fallback.",
}
