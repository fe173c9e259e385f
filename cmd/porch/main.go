package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "porch",
	Short: "Porch - pipeline task coordination service",
	Long:  `A coordination service where producers register pipeline tasks and workers claim and update them, with content-based de-duplication and token-scoped access.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
