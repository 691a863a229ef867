package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <face-id> <person>",
	Short: "Confirm that a face belongs to a person",
	Long: `Confirm that a stored face belongs to a person. Verified faces are the
references of the person's searches and form their cluster.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

var unassignCmd = &cobra.Command{
	Use:   "unassign <face-id>",
	Short: "Remove a face from its person",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnassign,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(unassignCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	p, err := eng.FindPerson(ctx, args[1])
	if err != nil {
		return err
	}
	if err := eng.VerifyFace(ctx, args[0], p.ID); err != nil {
		return err
	}
	fmt.Printf("Face %s verified as %s\n", args[0], p.Name)
	return nil
}

func runUnassign(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	if err := eng.UnassignFace(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Face %s unassigned\n", args[0])
	return nil
}
