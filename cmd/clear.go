package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all stored faces and clusters",
	Long: `Delete every stored face and person cluster. People are kept; their
next search starts again from their primary photo.`,
	Args: cobra.NoArgs,
	RunE: runClear,
}

func init() {
	rootCmd.AddCommand(clearCmd)

	clearCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}

func runClear(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		fmt.Print("Delete all stored faces? [y/N] ")
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	n, err := eng.DeleteAllFaceData(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d faces\n", n)
	return nil
}
