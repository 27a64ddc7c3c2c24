// Package cmd wires the CLI commands for the blentor server.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "blentor",
	Short: "Blentor - Blender assistant backend",
	Long: `Blentor is the HTTP backend of a Blender assistant: retrieval-augmented
question answering over an indexed knowledge base, bpy script generation,
and an autonomous learning loop that grows the knowledge base over time.

Run 'blentor serve' to start the server.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
