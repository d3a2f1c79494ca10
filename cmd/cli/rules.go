package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"convodesk/internal/config"
	"convodesk/internal/models"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var flagRulesOwner string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect automation rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a workspace's automation rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		q := db.Order("created_at")
		if flagRulesOwner != "" {
			q = q.Where("owner_id = ?", flagRulesOwner)
		}
		var rules []models.AutomationRule
		if err := q.Find(&rules).Error; err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tACTIVE")
		for _, rule := range rules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", rule.ID, rule.Name, rule.TriggerType, rule.IsActive)
		}
		return w.Flush()
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate stored rule payloads decode cleanly",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		q := db.Order("created_at")
		if flagRulesOwner != "" {
			q = q.Where("owner_id = ?", flagRulesOwner)
		}
		var rules []models.AutomationRule
		if err := q.Find(&rules).Error; err != nil {
			return err
		}

		bad := 0
		for _, rule := range rules {
			if _, err := rule.DecodeConditions(); err != nil {
				fmt.Printf("%s (%s): bad conditions: %v\n", rule.ID, rule.Name, err)
				bad++
				continue
			}
			if _, err := rule.DecodeActions(); err != nil {
				fmt.Printf("%s (%s): bad actions: %v\n", rule.ID, rule.Name, err)
				bad++
			}
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d rules failed to decode", bad, len(rules))
		}
		fmt.Printf("%d rules OK\n", len(rules))
		return nil
	},
}

func openDB() (*gorm.DB, error) {
	cfg := config.Load()
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&flagRulesOwner, "owner", "", "workspace id to filter by")
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rootCmd.AddCommand(rulesCmd)
}
