package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-gallery/internal/identify"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <image>...",
	Short: "Enroll face images of one person",
	Long: `Enroll one or more face images of the same person.

Without --person-id a new person is created from the first image and the
remaining images are added to it. With --person-id the images are added to
that person, who is created with --name if not enrolled yet.

Examples:
  # Create a person from two images
  face-gallery enroll --name "Alice Novak" alice1.jpg alice2.jpg

  # Add an image to an existing person
  face-gallery enroll --person-id 6f1c... alice3.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("name", "", "Display name of the person")
	enrollCmd.Flags().String("person-id", "", "Existing person id (UUID) to add the images to")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// EnrollOutput is the JSON result of one enrolled image.
type EnrollOutput struct {
	Image        string   `json:"image"`
	PersonID     string   `json:"person_id"`
	DescriptorID string   `json:"descriptor_id"`
	SimilarTo    []string `json:"similar_to,omitempty"`
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name := mustGetString(cmd, "name")
	personID := mustGetString(cmd, "person-id")
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

	results := make([]EnrollOutput, 0, len(args))
	for _, path := range args {
		res, err := enrollFile(ctx, a.service, path, name, personID)
		if err != nil {
			return fmt.Errorf("enrolling %s: %w", path, err)
		}
		personID = res.PersonID

		out := EnrollOutput{Image: path, PersonID: res.PersonID, DescriptorID: res.DescriptorID}
		for _, p := range res.SimilarTo {
			out.SimilarTo = append(out.SimilarTo, p.PersonID)
		}
		results = append(results, out)

		if !jsonOutput {
			fmt.Printf("Enrolled %s as person %s (descriptor %s)\n", path, res.PersonID, res.DescriptorID)
			for _, p := range res.SimilarTo {
				fmt.Printf("  Warning: similar to person %s (distance %s)\n", p.PersonID, formatDistance(p.Distance))
			}
		}
	}

	if jsonOutput {
		return outputJSON(results)
	}
	return nil
}

func enrollFile(ctx context.Context, svc *identify.Service, path, name, personID string) (*identify.EnrollResult, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is given by the operator
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return svc.Enroll(ctx, identify.EnrollRequest{
		Image:       data,
		DisplayName: name,
		PersonID:    personID,
		CallerID:    cliCaller(),
	})
}

// cliCaller names the operator in audit records of CLI commands.
func cliCaller() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
