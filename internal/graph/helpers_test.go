package graph

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"pgsync/internal/models"
)

type sourceFunc func() (*models.Graph, error)

func (f sourceFunc) ForeignKeyDependencies(ctx context.Context, db *sql.DB) (*models.Graph, error) {
	return f()
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
