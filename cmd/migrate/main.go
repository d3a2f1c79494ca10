package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"convodesk/internal/config"
	"convodesk/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := postgresDSN(cfg)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
		&models.ConversationParticipant{},
		&models.Tag{},
		&models.ConversationTag{},
		&models.MessageTemplate{},
		&models.SLAPolicy{},
		&models.SLAViolation{},
		&models.AutomationRule{},
		&models.AutomationRun{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_conversations_owner_status ON conversations(owner_id, status)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_rules_owner_trigger ON automation_rules(owner_id, trigger_type)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_automation_runs_rule_created ON automation_runs(rule_id, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_sla_violations_conversation_type ON sla_violations(conversation_id, violation_type)")

	log.Println("Additional indexes created successfully!")

	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
}

func seedDefaultData(db *gorm.DB) {
	owner := os.Getenv("CONVODESK_WORKSPACE")
	if owner == "" {
		owner = "demo-workspace"
	}

	var existing models.MessageTemplate
	if err := db.Where("owner_id = ? AND name = ?", owner, "welcome").First(&existing).Error; err != nil {
		tpl := models.MessageTemplate{
			OwnerID:   owner,
			Name:      "welcome",
			Language:  "en",
			Content:   "Hi {{name}}, thanks for reaching out! An agent will be with you shortly.",
			Variables: `["name"]`,
			Category:  "greeting",
		}
		db.Create(&tpl)
		log.Println("Created welcome template")
	}

	var policy models.SLAPolicy
	if err := db.Where("owner_id = ? AND name = ?", owner, "default-urgent").First(&policy).Error; err != nil {
		policy = models.SLAPolicy{
			OwnerID:           owner,
			Name:              "default-urgent",
			Priority:          "urgent",
			FirstResponseTime: 15,
			ResolutionTime:    240,
			Active:            true,
		}
		db.Create(&policy)
		log.Println("Created default urgent SLA policy")
	}

	var rule models.AutomationRule
	if err := db.Where("owner_id = ? AND name = ?", owner, "auto-greet").First(&rule).Error; err != nil {
		rule = models.AutomationRule{
			OwnerID:     owner,
			Name:        "auto-greet",
			Description: "Send the welcome template on every new conversation",
			TriggerType: models.TriggerConversationCreated,
			Conditions:  `{}`,
			Actions:     `[{"type":"send_template","params":{"template_name":"welcome","language":"en"}}]`,
			IsActive:    true,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		db.Create(&rule)
		log.Println("Created auto-greet rule")
	}
}
