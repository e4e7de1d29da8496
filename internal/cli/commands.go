package cli

import (
	"fmt"
	"os"
	"sync"
)

var initOnce sync.Once

// InitCLI wires up the root command and its persistent flags. Safe to
// call more than once; subcommands register themselves via init().
func InitCLI() {
	initOnce.Do(InitRoot)
}

// Execute runs the root command against args.
func Execute(args []string) error {
	RootCmd.SetArgs(args)
	if err := RootCmd.Execute(); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}

// ExecuteWithErrorCode runs the root command and maps the result to a
// process exit code.
func ExecuteWithErrorCode(args []string) int {
	RootCmd.SetArgs(args)
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
