package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
)

var similarCmd = &cobra.Command{
	Use:   "similar <face-id>",
	Short: "Find stored faces similar to a face",
	Long: `Rank every stored face by cosine similarity to the given one.

Examples:
  face-matcher similar 5f0c...
  face-matcher similar 5f0c... --threshold 0.8 --limit 10`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	similarCmd.Flags().Float64("threshold", 0, "Minimum cosine similarity (default from MATCH_EXPLORATORY_THRESHOLD)")
	similarCmd.Flags().Int("limit", 0, "Maximum results (default from MATCH_EXPLORATORY_TOP_K)")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
}

type similarOutput struct {
	faceOutput
	Similarity float64 `json:"similarity"`
}

func runSimilar(cmd *cobra.Command, args []string) error {
	threshold, err := similarityFlag(cmd, "threshold")
	if err != nil {
		return err
	}
	limit, err := countFlag(cmd, "limit")
	if err != nil {
		return err
	}

	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	similar, err := eng.SimilarFaces(ctx, args[0], threshold, limit)
	if err != nil {
		return err
	}

	out := make([]similarOutput, len(similar))
	for i := range similar {
		out[i] = similarOutput{
			faceOutput: toFaceOutputs([]database.EmbeddingRecord{similar[i].Record})[0],
			Similarity: similar[i].Similarity,
		}
	}
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(out) == 0 {
		fmt.Println("No similar faces found")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE\tIMAGE\tOWNER\tSIMILARITY")
	fmt.Fprintln(w, "----\t-----\t-----\t----------")
	for _, s := range out {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\n", s.ID, photoRef(cfg, s.ImageID), s.OwnerID, s.Similarity)
	}
	w.Flush()
	return nil
}
