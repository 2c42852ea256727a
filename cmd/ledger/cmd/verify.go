package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verifyOwner string

// verifyCmd represents the verify command.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check stored balances against transactions",
	Long: `Recompute every account balance of an owner from its active
transactions and report accounts whose stored balance differs.

Exits with status 2 when drift is found.

Example:
  ledger verify --owner alice`,
	Run: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyOwner, "owner", "", "owner ID (required)")
}

func runVerify(cmd *cobra.Command, args []string) {
	requireOwner(verifyOwner)
	cfg := loadConfig()

	s := openServices(cfg, slog.Default())
	defer s.close()

	drift, err := s.engine.VerifyBalances(context.Background(), verifyOwner)
	exitOnError(err, "failed to verify balances")

	if len(drift) == 0 {
		fmt.Println("All balances match their transactions")
		return
	}

	fmt.Println("\n=== Balance Drift ===")
	for _, d := range drift {
		fmt.Printf("%s  stored %s  expected %s\n", d.AccountID, d.Stored.StringFixed(2), d.Expected.StringFixed(2))
	}
	fmt.Println()

	slog.Warn("Balance drift detected", "owner_id", verifyOwner, "accounts", len(drift))
	s.close()
	os.Exit(2)
}
