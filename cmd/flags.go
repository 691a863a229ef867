package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// Flags are registered in init(), so a lookup error is a programming bug.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// similarityFlag reads a cosine similarity flag. Zero means "use the
// configured default"; anything outside [0, 1] is a user error.
func similarityFlag(cmd *cobra.Command, name string) (float64, error) {
	val, err := cmd.Flags().GetFloat64(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	if val < 0 || val > 1 {
		return 0, fmt.Errorf("--%s must be between 0 and 1, got %v", name, val)
	}
	return val, nil
}

// countFlag reads a non-negative count flag such as a result limit or a
// worker count. Zero means "use the configured default".
func countFlag(cmd *cobra.Command, name string) (int, error) {
	val := mustGetInt(cmd, name)
	if val < 0 {
		return 0, fmt.Errorf("--%s must not be negative, got %d", name, val)
	}
	return val, nil
}
