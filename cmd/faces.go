package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
)

var facesCmd = &cobra.Command{
	Use:   "faces <image-id>",
	Short: "List the stored faces of an image",
	Long: `List the stored faces of a library image in reading order
(top to bottom, then left to right).`,
	Args: cobra.ExactArgs(1),
	RunE: runFaces,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image-id>",
	Short: "Detect and store the faces of an image",
	Long: `Detect the faces of a library image and store them unattributed.
Images whose faces are already stored are not analyzed again.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	rootCmd.AddCommand(analyzeCmd)

	facesCmd.Flags().Bool("json", false, "Output as JSON")
	analyzeCmd.Flags().Bool("json", false, "Output as JSON")
}

// faceOutput is the CLI view of a stored face.
type faceOutput struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"image_id"`
	FaceIndex int       `json:"face_index"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Verified  bool      `json:"verified"`
	BBox      []float64 `json:"bbox"`
	Quality   *float64  `json:"quality,omitempty"`
	ImageDate string    `json:"image_date,omitempty"`
}

func toFaceOutputs(records []database.EmbeddingRecord) []faceOutput {
	out := make([]faceOutput, len(records))
	for i := range records {
		r := &records[i]
		out[i] = faceOutput{
			ID:        r.ID,
			ImageID:   r.ImageID,
			FaceIndex: r.FaceIndex,
			OwnerID:   r.OwnerID,
			Verified:  r.IsVerified,
			BBox:      r.BBox,
			Quality:   r.QualityScore,
		}
		if !r.ImageDate.IsZero() {
			out[i].ImageDate = r.ImageDate.Format(time.DateOnly)
		}
	}
	return out
}

func printFaces(cfg *config.Config, records []database.EmbeddingRecord) {
	if len(records) == 0 {
		fmt.Println("No faces stored")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FACE\tIMAGE\tINDEX\tOWNER\tVERIFIED\tDATE\tBBOX")
	fmt.Fprintln(w, "----\t-----\t-----\t-----\t--------\t----\t----")
	for _, f := range toFaceOutputs(records) {
		owner := f.OwnerID
		if owner == "" {
			owner = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\t%s\t%.3f\n",
			f.ID, photoRef(cfg, f.ImageID), f.FaceIndex, owner, f.Verified, f.ImageDate, f.BBox)
	}
	w.Flush()
}

func outputFaces(cmd *cobra.Command, cfg *config.Config, records []database.EmbeddingRecord) error {
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(toFaceOutputs(records))
	}
	printFaces(cfg, records)
	return nil
}

func runFaces(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	records, err := eng.StoredFacesForImage(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load faces: %w", err)
	}
	return outputFaces(cmd, cfg, records)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	records, err := eng.AnalyzeImage(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to analyze %s: %w", args[0], err)
	}
	return outputFaces(cmd, cfg, records)
}
