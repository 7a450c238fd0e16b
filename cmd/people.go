package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "Manage enrolled people",
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled people",
	Long: `List enrolled people with their descriptor counts.

Examples:
  face-gallery people list
  face-gallery people list --query novak --json`,
	Args: cobra.NoArgs,
	RunE: runPeopleList,
}

var peopleRemoveCmd = &cobra.Command{
	Use:   "remove <person-id>...",
	Short: "Remove people and all their descriptors",
	Long: `Remove people and all their descriptors. Removing an id that is not
enrolled succeeds. Audit records that reference the person are kept.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPeopleRemove,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.AddCommand(peopleListCmd)
	peopleCmd.AddCommand(peopleRemoveCmd)

	peopleListCmd.Flags().String("query", "", "Only people whose name contains this text (ignores case and accents)")
	peopleListCmd.Flags().Bool("json", false, "Output as JSON")
}

// PersonOutput is one listed person.
type PersonOutput struct {
	PersonID        string    `json:"person_id"`
	DisplayName     string    `json:"display_name"`
	DescriptorCount int       `json:"descriptor_count"`
	CreatedAt       time.Time `json:"created_at"`
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	query := mustGetString(cmd, "query")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	people, err := a.service.ListPeople(ctx, query)
	if err != nil {
		return fmt.Errorf("listing people: %w", err)
	}

	if jsonOutput {
		out := make([]PersonOutput, 0, len(people))
		for _, p := range people {
			out = append(out, PersonOutput{
				PersonID:        p.ID,
				DisplayName:     p.DisplayName,
				DescriptorCount: p.DescriptorCount,
				CreatedAt:       p.CreatedAt,
			})
		}
		return outputJSON(out)
	}

	if len(people) == 0 {
		fmt.Println("No people enrolled.")
		return nil
	}
	fmt.Printf("%-36s  %-11s  %s\n", "ID", "DESCRIPTORS", "NAME")
	for _, p := range people {
		fmt.Printf("%-36s  %-11d  %s\n", p.ID, p.DescriptorCount, p.DisplayName)
	}
	fmt.Printf("\n%d people\n", len(people))
	return nil
}

func runPeopleRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range args {
		if err := a.service.RemovePerson(ctx, id); err != nil {
			return fmt.Errorf("removing %s: %w", id, err)
		}
		fmt.Printf("Removed %s\n", id)
	}
	a.saveIndex()
	return nil
}
