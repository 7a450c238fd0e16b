package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-gallery/internal/database"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the identification audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identification attempts, newest first",
	Long: `List identification attempts, newest first.

Examples:
  face-gallery audit list --since 24h
  face-gallery audit list --outcome extractionFailed --caller door-7
  face-gallery audit list --person 6f1c... --json`,
	Args: cobra.NoArgs,
	RunE: runAuditList,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)

	auditListCmd.Flags().String("outcome", "", "Only records with this outcome (matched, unmatched, extractionFailed, error)")
	auditListCmd.Flags().String("caller", "", "Only records of this caller")
	auditListCmd.Flags().String("person", "", "Only records that matched this person id")
	auditListCmd.Flags().Duration("since", 0, "Only records decided within this duration (e.g. 24h)")
	auditListCmd.Flags().Int("limit", 0, "Maximum number of records (default 100, max 1000)")
	auditListCmd.Flags().Bool("json", false, "Output as JSON")
}

// AuditOutput is one listed audit record.
type AuditOutput struct {
	RequestID        string    `json:"request_id"`
	DecidedAt        time.Time `json:"decided_at"`
	CallerID         string    `json:"caller_id"`
	QueryFingerprint string    `json:"query_fingerprint"`
	Outcome          string    `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
	MatchedPersonID  string    `json:"matched_person_id,omitempty"`
	Distance         *float64  `json:"distance,omitempty"`
}

func runAuditList(cmd *cobra.Command, args []string) error {
	filter := database.AuditFilter{
		Outcome:  database.Outcome(mustGetString(cmd, "outcome")),
		CallerID: mustGetString(cmd, "caller"),
		PersonID: mustGetString(cmd, "person"),
		Limit:    mustGetInt(cmd, "limit"),
	}
	if since := mustGetDuration(cmd, "since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}
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

	records, err := a.service.ListAudit(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit records: %w", err)
	}

	if jsonOutput {
		out := make([]AuditOutput, 0, len(records))
		for _, rec := range records {
			out = append(out, AuditOutput{
				RequestID:        rec.RequestID,
				DecidedAt:        rec.DecidedAt,
				CallerID:         rec.CallerID,
				QueryFingerprint: rec.QueryFingerprint,
				Outcome:          string(rec.Outcome),
				Reason:           rec.Reason,
				MatchedPersonID:  rec.MatchedPersonID,
				Distance:         finiteOrNil(rec.Distance),
			})
		}
		return outputJSON(out)
	}

	if len(records) == 0 {
		fmt.Println("No audit records.")
		return nil
	}
	for _, rec := range records {
		detail := rec.MatchedPersonID
		if rec.Reason != "" {
			detail = rec.Reason
		}
		fmt.Printf("%s  %-16s  %-8s  %-20s  %s  %s\n",
			rec.DecidedAt.Local().Format(time.DateTime), rec.Outcome, formatDistance(rec.Distance),
			rec.CallerID, rec.RequestID, detail)
	}
	return nil
}
