package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var categoriesOwner string

// categoriesCmd groups category commands.
var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Manage categories",
}

// categoriesSeedCmd represents the categories seed command.
var categoriesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the configured default categories for an owner",
	Long: `Create the categories listed under "categories" in the config file.
Categories the owner already has are left untouched.

Example:
  ledger categories seed --owner alice --config ledger.yaml`,
	Run: runCategoriesSeed,
}

// categoriesListCmd represents the categories list command.
var categoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's categories",
	Run:   runCategoriesList,
}

func init() {
	categoriesCmd.PersistentFlags().StringVar(&categoriesOwner, "owner", "", "owner ID (required)")
	categoriesCmd.AddCommand(categoriesSeedCmd)
	categoriesCmd.AddCommand(categoriesListCmd)
}

func runCategoriesSeed(cmd *cobra.Command, args []string) {
	requireOwner(categoriesOwner)
	cfg := loadConfig()

	if err := cfg.Validate([]string{"categories"}); err != nil {
		exitOnError(err, "invalid configuration")
	}

	s := openServices(cfg, slog.Default())
	defer s.close()

	created, err := s.categories.Seed(context.Background(), categoriesOwner, cfg.Categories)
	exitOnError(err, "failed to seed categories")

	fmt.Printf("Created %d of %d categories\n", created, len(cfg.Categories))
	slog.Info("Categories seeded", "owner_id", categoriesOwner, "created", created)
}

func runCategoriesList(cmd *cobra.Command, args []string) {
	requireOwner(categoriesOwner)
	cfg := loadConfig()

	s := openServices(cfg, slog.Default())
	defer s.close()

	categories, err := s.categories.List(context.Background(), categoriesOwner)
	exitOnError(err, "failed to list categories")

	for _, c := range categories {
		fmt.Printf("%s  %-8s %s\n", c.ID, c.Kind, c.Name)
	}
}
