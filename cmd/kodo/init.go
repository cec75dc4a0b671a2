package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paxtone-io/openkodo/internal/config"
	"github.com/paxtone-io/openkodo/internal/store"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a kodo store in the project",
	Long: `Create the .kodo directory holding learnings, context entries, session
state, and a starter config.yaml. Safe to run on an existing store;
only missing pieces are created.

Examples:
  # Initialize in the current directory
  kodo init

  # Initialize another project
  kodo --dir ~/src/payments init`,
	Args: exactArgs(0),
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	layout, err := store.Init(rootDir)
	if err != nil {
		return err
	}
	if err := config.WriteDefault(layout.ConfigFile()); err != nil {
		return err
	}

	fmt.Printf("Initialized kodo store in %s\n", layout.Root)
	fmt.Printf("Edit %s to tune capture and serving.\n", layout.ConfigFile())
	return nil
}
