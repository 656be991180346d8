package database

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
)

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName,
	)

	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

var migrations = []struct {
	name   string
	schema string
}{
	{"leads", `
	CREATE TABLE IF NOT EXISTS leads (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		phone_number VARCHAR(20) NOT NULL,
		status VARCHAR(40) NOT NULL DEFAULT 'new',
		workshop_name VARCHAR(255) NOT NULL DEFAULT '',
		assigned_to_user_id BIGINT NULL,
		labels JSON NOT NULL,
		rule_throttle JSON NULL,
		chatbot_state JSON NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		UNIQUE KEY uq_leads_phone (phone_number),
		INDEX idx_leads_status (status),
		INDEX idx_leads_workshop (workshop_name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`},
	{"scheduled_jobs", `
	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		sender_id VARCHAR(100) NOT NULL,
		target_type VARCHAR(20) NOT NULL,
		target_spec JSON NOT NULL,
		message_type VARCHAR(20) NOT NULL DEFAULT 'text',
		message_content TEXT NOT NULL,
		recurrence JSON NOT NULL,
		next_run_at DATETIME(3) NULL,
		last_run_at DATETIME(3) NULL,
		run_count INT NOT NULL DEFAULT 0,
		max_runs INT NOT NULL DEFAULT 0,
		last_error TEXT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		INDEX idx_jobs_due (status, next_run_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`},
	{"automation_rules", `
	CREATE TABLE IF NOT EXISTS automation_rules (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_type VARCHAR(20) NOT NULL,
		conditions JSON NULL,
		keywords JSON NOT NULL,
		action_type VARCHAR(20) NOT NULL,
		action_text TEXT NOT NULL,
		action_lead_updates JSON NULL,
		throttle_minutes_per_lead INT NOT NULL DEFAULT 5,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		INDEX idx_rules_enabled (enabled, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`},
	{"whatsapp_messages", `
	CREATE TABLE IF NOT EXISTS whatsapp_messages (
		id CHAR(36) PRIMARY KEY,
		lead_id BIGINT NULL,
		job_id BIGINT NULL,
		rule_id BIGINT NULL,
		sender_id VARCHAR(100) NOT NULL DEFAULT '',
		phone_number VARCHAR(20) NOT NULL,
		direction VARCHAR(10) NOT NULL,
		message_type VARCHAR(20) NOT NULL DEFAULT 'text',
		content TEXT NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'queued',
		retry_count INT NOT NULL DEFAULT 0,
		next_retry_time DATETIME(3) NULL,
		last_error_code VARCHAR(64) NULL,
		last_error_message TEXT NULL,
		provider_message_id VARCHAR(128) NULL,
		sent_at DATETIME(3) NULL,
		created_at DATETIME(3) NOT NULL,
		updated_at DATETIME(3) NOT NULL,
		UNIQUE KEY uq_messages_provider_id (provider_message_id),
		INDEX idx_messages_conversation (lead_id, phone_number, created_at),
		INDEX idx_messages_phone (phone_number, direction),
		INDEX idx_messages_retry (status, next_retry_time),
		INDEX idx_messages_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`},
	{"consent_records", `
	CREATE TABLE IF NOT EXISTS consent_records (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		phone_number VARCHAR(20) NOT NULL,
		channel VARCHAR(20) NOT NULL DEFAULT 'whatsapp',
		status VARCHAR(20) NOT NULL,
		source VARCHAR(100) NOT NULL DEFAULT '',
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		INDEX idx_consent_lookup (phone_number, channel, updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`},
}

func RunMigrations(db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.Exec(m.schema); err != nil {
			return fmt.Errorf("failed to migrate %s: %w", m.name, err)
		}
	}

	logger.Infof("Database migrations completed (%d tables)", len(migrations))

	return nil
}

// SeedTestData inserts a handful of leads, one daily job and a starter rule set
// into an empty database.
func SeedTestData(db *sqlx.DB) error {
	var count int

	if err := db.Get(&count, "SELECT COUNT(*) FROM leads"); err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Database already has %d leads, skipping seed", count)
		return nil
	}

	testLeads := []struct {
		name         string
		phoneNumber  string
		status       string
		workshopName string
		labels       string
	}{
		{"Asha Raman", "+919876543210", "new", "Morning Hatha", `["beginner"]`},
		{"Dev Mehta", "+919812345678", "prospect", "Morning Hatha", `["beginner","weekend"]`},
		{"Lena Fischer", "+4915112345678", "customer", "Vinyasa Flow", `["advanced"]`},
		{"Marco Rossi", "+393471234567", "new", "Vinyasa Flow", `["weekend"]`},
		{"Priya Nair", "+919900112233", "prospect", "Prenatal Yoga", `["prenatal","beginner"]`},
	}

	for _, l := range testLeads {
		_, err := db.Exec(
			"INSERT INTO leads (name, phone_number, status, workshop_name, labels) VALUES (?, ?, ?, ?, ?)",
			l.name, l.phoneNumber, l.status, l.workshopName, l.labels,
		)
		if err != nil {
			return fmt.Errorf("failed to seed leads: %w", err)
		}
	}

	_, err := db.Exec(`
		INSERT INTO scheduled_jobs (name, status, sender_id, target_type, target_spec, message_type, message_content, recurrence, next_run_at, max_runs)
		VALUES (?, 'active', 'studio', 'dynamic_filter', ?, 'text', ?, ?, UTC_TIMESTAMP(3), 0)`,
		"Weekend class reminder",
		`{"filter":{"labelsAny":["weekend"]}}`,
		"Namaste! A reminder that weekend classes start at 8am.",
		`{"frequency":"weekly","interval":1,"weekdays":[5]}`,
	)
	if err != nil {
		return fmt.Errorf("failed to seed scheduled jobs: %w", err)
	}

	rules := []struct {
		name        string
		trigger     string
		keywords    string
		action      string
		actionText  string
		leadUpdates string
	}{
		{"Welcome", "welcome", `[]`, "send_text", "Welcome to the studio! Reply with any question about our classes.", `{}`},
		{"Pricing", "keyword", `["price","cost","fee"]`, "send_text", "Drop-in classes are 500 INR, monthly passes 4000 INR.", `{}`},
		{"Tag pricing interest", "keyword", `["price","cost","fee"]`, "update_lead", "", `{"addLabels":["pricing"]}`},
		{"Assistant", "ai_agent", `[]`, "ai_reply", "", `{}`},
	}

	for _, r := range rules {
		_, err := db.Exec(
			`INSERT INTO automation_rules (name, enabled, trigger_type, conditions, keywords, action_type, action_text, action_lead_updates)
			 VALUES (?, TRUE, ?, '{}', ?, ?, ?, ?)`,
			r.name, r.trigger, r.keywords, r.action, r.actionText, r.leadUpdates,
		)
		if err != nil {
			return fmt.Errorf("failed to seed automation rules: %w", err)
		}
	}

	logger.Infof("Seeded %d leads, 1 scheduled job and %d automation rules", len(testLeads), len(rules))
	return nil
}
