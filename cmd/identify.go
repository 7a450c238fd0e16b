package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-gallery/internal/identify"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Identify the person in an image",
	Long: `Identify the face in <image> against the enrolled gallery. The attempt
is recorded in the audit log like an API request.

Examples:
  face-gallery identify visitor.jpg
  face-gallery identify visitor.jpg --max-results 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Int("max-results", 0, "Number of ranked alternatives (default 5, max 50)")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentifyOutput is the JSON result of identify.
type IdentifyOutput struct {
	RequestID    string            `json:"request_id"`
	Outcome      string            `json:"outcome"`
	PersonID     string            `json:"person_id,omitempty"`
	DisplayName  string            `json:"display_name,omitempty"`
	Distance     *float64          `json:"distance,omitempty"`
	Threshold    float64           `json:"threshold"`
	Fingerprint  string            `json:"fingerprint"`
	Audited      bool              `json:"audited"`
	Alternatives []AlternativeJSON `json:"alternatives"`
}

// AlternativeJSON is one ranked candidate.
type AlternativeJSON struct {
	PersonID string  `json:"person_id"`
	Distance float64 `json:"distance"`
}

func runIdentify(cmd *cobra.Command, args []string) error {
	maxResults := mustGetInt(cmd, "max-results")
	jsonOutput := mustGetBool(cmd, "json")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

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

	d, err := a.service.Identify(ctx, identify.IdentifyRequest{
		Image:      data,
		CallerID:   cliCaller(),
		MaxResults: maxResults,
	})
	if err != nil {
		if svcErr, ok := identify.AsError(err); ok && svcErr.RequestID != "" {
			return fmt.Errorf("identification %s failed: %w", svcErr.RequestID, err)
		}
		return fmt.Errorf("identification failed: %w", err)
	}

	if jsonOutput {
		out := IdentifyOutput{
			RequestID:    d.RequestID,
			Outcome:      string(d.Outcome),
			PersonID:     d.PersonID,
			DisplayName:  d.DisplayName,
			Distance:     finiteOrNil(d.Distance),
			Threshold:    d.Threshold,
			Fingerprint:  d.QueryFingerprint,
			Audited:      d.Audited,
			Alternatives: make([]AlternativeJSON, 0, len(d.Alternatives)),
		}
		for _, alt := range d.Alternatives {
			out.Alternatives = append(out.Alternatives, AlternativeJSON{PersonID: alt.PersonID, Distance: alt.Distance})
		}
		return outputJSON(out)
	}

	if d.Matched {
		fmt.Printf("Matched: %s (%s) at distance %s\n", d.DisplayName, d.PersonID, formatDistance(d.Distance))
	} else {
		fmt.Printf("No match (best distance %s, threshold %.3f)\n", formatDistance(d.Distance), d.Threshold)
	}
	if len(d.Alternatives) > 0 {
		fmt.Println("\nCandidates:")
		for i, alt := range d.Alternatives {
			fmt.Printf("  %d. %s  %s\n", i+1, alt.PersonID, formatDistance(alt.Distance))
		}
	}
	fmt.Printf("\nRequest: %s\n", d.RequestID)
	if !d.Audited {
		fmt.Println("Warning: the audit record could not be written")
	}
	return nil
}
