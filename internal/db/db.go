package db

import (
	"fmt"
	"strings"

	"autorun/internal/account"
	"autorun/internal/auth"
	"autorun/internal/autorun"
	"autorun/internal/interaction"
	"autorun/internal/outbox"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const sqlitePrefix = "sqlite://"

// Connect opens postgres for a regular DSN and sqlite for "sqlite://<path>".
func Connect(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}

	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		gdb, err := gorm.Open(sqlite.Open(path+sep+"_busy_timeout=5000"), cfg)
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return gdb, nil
	}

	gdb, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.User{},
		&account.Account{},
		&autorun.Job{},
		&autorun.Record{},
		&interaction.Record{},
		&outbox.Message{},
	); err != nil {
		return err
	}

	// Helpful indexes (portable between postgres and sqlite)
	stmts := []string{
		`create index if not exists idx_jobs_owner_status on automation_jobs(owner_id, status);`,
		`create index if not exists idx_records_job_created on execution_records(job_id, created_at);`,
		`create index if not exists idx_records_status_created on execution_records(status, created_at);`,
		`create index if not exists idx_interactions_owner_created on interaction_records(owner_id, created_at);`,
		`create index if not exists idx_outbox_status_run_at on notification_outbox(status, run_at);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
