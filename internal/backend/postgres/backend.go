package postgres

import (
	"github.com/bissquit/task-garden/internal/backend"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Backend combines the row repository and the auth API.
type Backend struct {
	*Repository
	*Auth
}

var _ backend.Backend = (*Backend)(nil)

// New creates a PostgreSQL backend.
func New(db *pgxpool.Pool, cfg AuthConfig) *Backend {
	return &Backend{
		Repository: NewRepository(db),
		Auth:       NewAuth(db, cfg),
	}
}
