package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database"
	"github.com/kozaktomas/face-matcher/internal/engine"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "Manage people",
}

var peopleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a person",
	Long: `Add a person to search for. The primary photo is either a library image
(--image) or a local photo file (--photo). A person without verified faces
is bootstrapped from the primary photo on their first search.

Examples:
  face-matcher people add "Jan Novák" --image 2019/summer/IMG_0042.jpg
  face-matcher people add "Eva" --photo ~/eva.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runPeopleAdd,
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List people",
	Args:  cobra.NoArgs,
	RunE:  runPeopleList,
}

var peopleDeleteCmd = &cobra.Command{
	Use:   "delete <person>",
	Short: "Delete a person with their faces and cluster",
	Args:  cobra.ExactArgs(1),
	RunE:  runPeopleDelete,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.AddCommand(peopleAddCmd, peopleListCmd, peopleDeleteCmd)

	peopleAddCmd.Flags().String("image", "", "Library image id of the primary photo")
	peopleAddCmd.Flags().String("photo", "", "Local photo file used as the primary photo")
}

func runPeopleAdd(cmd *cobra.Command, args []string) error {
	imageID := mustGetString(cmd, "image")
	photoPath := mustGetString(cmd, "photo")
	if imageID != "" && photoPath != "" {
		return errors.New("--image and --photo are mutually exclusive")
	}

	in := engine.NewPerson{Name: args[0], PrimaryImageID: imageID}
	if photoPath != "" {
		data, err := os.ReadFile(photoPath)
		if err != nil {
			return fmt.Errorf("failed to read photo: %w", err)
		}
		in.PrimaryPhoto = data
	}

	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	p, err := eng.AddPerson(ctx, in)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s (%s)\n", p.Name, p.ID)
	return nil
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	people, err := eng.ListPeople(ctx)
	if err != nil {
		return err
	}
	if len(people) == 0 {
		fmt.Println("No people")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFACES\tVERIFIED\tPRIMARY PHOTO")
	fmt.Fprintln(w, "--\t----\t-----\t--------\t-------------")
	for i := range people {
		p := &people[i]
		total, err := eng.Store().Count(ctx, database.Filter{OwnerID: p.ID})
		if err != nil {
			return err
		}
		verified, err := eng.Store().Count(ctx, database.Filter{OwnerID: p.ID, VerifiedOnly: true})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.Name, total, verified, primaryPhoto(cfg, p))
	}
	return w.Flush()
}

func primaryPhoto(cfg *config.Config, p *database.Person) string {
	switch {
	case len(p.PrimaryPhoto) > 0:
		return "manual"
	case p.PrimaryImageID == "":
		return "-"
	case p.PrimaryImageDate.IsZero():
		return photoRef(cfg, p.PrimaryImageID)
	default:
		return photoRef(cfg, p.PrimaryImageID) + " (" + p.PrimaryImageDate.Format(time.DateOnly) + ")"
	}
}

func runPeopleDelete(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()
	eng, closeEngine, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	p, err := eng.FindPerson(ctx, args[0])
	if err != nil {
		return err
	}
	if err := eng.DeletePerson(ctx, p.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", p.Name)
	return nil
}
