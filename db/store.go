package db

import (
	"context"

	"gorm.io/gorm"
)

// Store is the shared query gateway. Both the API server and the workers hold
// one; all methods take a context and run against the same *gorm.DB.
type Store struct {
	gdb *gorm.DB
}

// NewStore wraps an open gorm handle.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{gdb: gdb}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.gdb }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
