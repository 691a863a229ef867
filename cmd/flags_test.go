package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestSimilarityFlag(t *testing.T) {
	tests := []struct {
		arg     string
		want    float64
		wantErr bool
	}{
		{"0", 0, false},
		{"0.75", 0.75, false},
		{"1", 1, false},
		{"1.5", 0, true},
		{"-0.1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			c := &cobra.Command{Use: "x"}
			c.Flags().Float64("threshold", 0, "")
			if err := c.Flags().Set("threshold", tt.arg); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, err := similarityFlag(c, "threshold")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountFlag(t *testing.T) {
	tests := []struct {
		arg     string
		want    int
		wantErr bool
	}{
		{"0", 0, false},
		{"50", 50, false},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			c := &cobra.Command{Use: "x"}
			c.Flags().Int("limit", 0, "")
			if err := c.Flags().Set("limit", tt.arg); err != nil {
				t.Fatalf("Set: %v", err)
			}

			got, err := countFlag(c, "limit")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
