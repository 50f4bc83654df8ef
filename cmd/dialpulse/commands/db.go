package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/dialpulse/db"
	"github.com/teranos/dialpulse/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the dialpulse database",
	Long: sym.DB + ` db - Manage database operations

Examples:
  dialpulse db migrate     # Apply pending migrations and list applied versions`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	fmt.Printf("%s Database %s is up to date\n", sym.DB, cfg.GetDatabasePath())
	for _, v := range versions {
		fmt.Printf("  %s\n", v)
	}
	return nil
}
