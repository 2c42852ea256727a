package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
)

var (
	auditOwner    string
	auditEntityID string
	auditAction   string
	auditLimit    int
	auditDays     int
)

// auditCmd groups audit trail commands.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and deliver the audit trail",
}

// auditDrainCmd represents the audit drain command.
var auditDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver pending outbox events to the audit log",
	Long: `Deliver every due outbox event to the audit log and print the
outbox status afterwards. Useful when the server is not running.

Example:
  ledger audit drain`,
	Run: runAuditDrain,
}

// auditLogCmd represents the audit log command.
var auditLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Print audit entries, newest first",
	Long: `Print an owner's audit entries, optionally for one entity, with
the fields each entry changed.

Example:
  ledger audit log --owner alice
  ledger audit log --owner alice --entity-id 3f1c... --limit 20`,
	Run: runAuditLog,
}

// auditSummaryCmd represents the audit summary command.
var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print daily audit activity counts",
	Long: `Print per-day create, update and delete counts for the last N days.

Example:
  ledger audit summary --owner alice --days 7`,
	Run: runAuditSummary,
}

func init() {
	auditLogCmd.Flags().StringVar(&auditOwner, "owner", "", "owner ID (required)")
	auditLogCmd.Flags().StringVar(&auditEntityID, "entity-id", "", "only entries of this entity")
	auditLogCmd.Flags().StringVar(&auditAction, "action", "", "only entries with this action (create, update, delete)")
	auditLogCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")

	auditSummaryCmd.Flags().StringVar(&auditOwner, "owner", "", "owner ID (required)")
	auditSummaryCmd.Flags().IntVar(&auditDays, "days", 30, "number of days, today included")

	auditCmd.AddCommand(auditDrainCmd)
	auditCmd.AddCommand(auditLogCmd)
	auditCmd.AddCommand(auditSummaryCmd)
}

func runAuditDrain(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	s := openServices(cfg, slog.Default())
	defer s.close()

	ctx := context.Background()
	var total audit.DispatchResult
	for {
		result, err := s.dispatcher.DrainOnce(ctx)
		exitOnError(err, "failed to drain outbox")

		total.Processed += result.Processed
		total.Published += result.Published
		total.Failed += result.Failed

		// Failed events are rescheduled, so a batch of only failures ends the run.
		if result.Processed < cfg.Outbox.BatchSize || result.Published == 0 {
			break
		}
	}

	counts, err := s.outbox.Counts(ctx)
	exitOnError(err, "failed to read outbox status")

	fmt.Println("\n=== Audit Outbox ===")
	fmt.Printf("Delivered this run: %d\n", total.Published)
	fmt.Printf("Failed this run:    %d\n", total.Failed)
	fmt.Printf("Pending:            %d\n", counts[audit.OutboxPending])
	fmt.Printf("Published:          %d\n", counts[audit.OutboxPublished])
	fmt.Printf("Parked:             %d\n", counts[audit.OutboxFailed])
	fmt.Println()

	slog.Info("Outbox drained", "published", total.Published, "failed", total.Failed)
}

func runAuditLog(cmd *cobra.Command, args []string) {
	requireOwner(auditOwner)
	cfg := loadConfig()

	filter := audit.Filter{EntityID: auditEntityID, Action: audit.Action(auditAction), Limit: auditLimit}
	if filter.Action != "" && !filter.Action.Valid() {
		exitOnError(fmt.Errorf("unknown action %q", auditAction), "invalid arguments")
	}

	s := openServices(cfg, slog.Default())
	defer s.close()

	page, err := s.recorder.Query(context.Background(), auditOwner, filter)
	exitOnError(err, "failed to query audit log")

	for _, e := range page.Entries {
		fmt.Printf("%s  %-6s %s/%s  %s\n", e.CreatedAt.Format(db.TimeLayout), e.Action, e.EntityType, e.EntityID, e.Description)

		if e.Action != audit.ActionUpdate {
			continue
		}
		changes, err := e.Changes()
		if err != nil {
			slog.Warn("Unreadable audit snapshot", "audit_id", e.ID, "error", err)
			continue
		}
		for field, c := range changes {
			fmt.Printf("    %s: %v -> %v\n", field, c.Before, c.After)
		}
	}

	fmt.Printf("\n%d of %d entries\n", len(page.Entries), page.Total)
}

func runAuditSummary(cmd *cobra.Command, args []string) {
	requireOwner(auditOwner)
	if auditDays < 1 {
		exitOnError(fmt.Errorf("--days must be positive"), "invalid arguments")
	}
	cfg := loadConfig()

	s := openServices(cfg, slog.Default())
	defer s.close()

	start, end := clock.LastDays(s.clock, auditDays)

	summary, err := s.recorder.ActivitySummary(context.Background(), auditOwner, start, end)
	exitOnError(err, "failed to summarize audit log")

	fmt.Println("\n=== Audit Activity ===")
	for _, d := range summary.Days {
		fmt.Printf("%s  create %-4d update %-4d delete %-4d\n", d.Date, d.Create, d.Update, d.Delete)
	}
	fmt.Printf("Total: %d\n\n", summary.Total)
}
