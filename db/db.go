package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to postgres and configures the connection pool.
func Open(databaseURL string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb, nil
}

// Migrate creates the schema, the tsvector sync trigger and the composite
// indexes AutoMigrate cannot express.
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&User{},
		&Repository{},
		&AnalysisJob{},
		&AnalysisResult{},
		&CodeChunk{},
		&ChatSession{},
		&ChatMessage{},
		&RefreshToken{},
		&ShareToken{},
		&APIKey{},
		&DeadLetterJob{},
	); err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}

	statements := []string{
		`CREATE OR REPLACE FUNCTION devlens_code_chunks_fts_sync()
		 RETURNS trigger AS $$
		 BEGIN
		     NEW.fts := to_tsvector('english', coalesce(NEW.file_path, '') || ' ' || coalesce(NEW.content, ''));
		     RETURN NEW;
		 END;
		 $$ LANGUAGE plpgsql`,
		`DROP TRIGGER IF EXISTS trg_code_chunks_fts_sync ON code_chunks`,
		`CREATE TRIGGER trg_code_chunks_fts_sync
		 BEFORE INSERT OR UPDATE OF file_path, content ON code_chunks
		 FOR EACH ROW
		 EXECUTE FUNCTION devlens_code_chunks_fts_sync()`,
		`UPDATE code_chunks
		 SET fts = to_tsvector('english', coalesce(file_path, '') || ' ' || coalesce(content, ''))
		 WHERE fts IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_code_chunks_fts ON code_chunks USING gin (fts)`,
	}
	for _, stmt := range statements {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration statement failed: %w", err)
		}
	}
	return nil
}
