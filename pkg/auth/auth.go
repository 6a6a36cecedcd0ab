// Package auth resolves a bearer token to a tenant (project) identity and
// gates write/read operations against it.
package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/config"
)

// Identity is the resolved caller: which project a request authenticates as.
type Identity struct {
	ProjectID string
}

// Authenticator resolves a bearer token to an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// LegacyAuthenticator authenticates every request bearing the single shared
// token as the default project.
type LegacyAuthenticator struct {
	token            string
	defaultProjectID string
}

// NewLegacyAuthenticator builds the single-shared-token authenticator.
func NewLegacyAuthenticator(token, defaultProjectID string) *LegacyAuthenticator {
	return &LegacyAuthenticator{token: token, defaultProjectID: defaultProjectID}
}

func (a *LegacyAuthenticator) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" || token != a.token {
		return Identity{}, apierr.New(apierr.KindUnauthorized, "invalid bearer token")
	}
	return Identity{ProjectID: a.defaultProjectID}, nil
}

// ProjectAuthenticator hashes the bearer token and looks it up in api_keys.
type ProjectAuthenticator struct {
	db *sql.DB
}

// NewProjectAuthenticator builds the per-project-key authenticator.
func NewProjectAuthenticator(db *sql.DB) *ProjectAuthenticator {
	return &ProjectAuthenticator{db: db}
}

// HashToken returns the one-way digest stored in api_keys.key_hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (a *ProjectAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apierr.New(apierr.KindUnauthorized, "missing bearer token")
	}

	var projectID string
	var isActive bool
	var expiresAt sql.NullTime
	err := a.db.QueryRowContext(ctx,
		`SELECT project_id, is_active, expires_at FROM api_keys WHERE key_hash = $1`,
		HashToken(token),
	).Scan(&projectID, &isActive, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Identity{}, apierr.New(apierr.KindUnauthorized, "unknown api key")
	case err != nil:
		return Identity{}, apierr.Wrap(apierr.KindServer, "api key lookup failed", err)
	}

	if !isActive {
		return Identity{}, apierr.New(apierr.KindUnauthorized, "api key is inactive")
	}
	if expiresAt.Valid && expiresAt.Time.Before(time.Now()) {
		return Identity{}, apierr.New(apierr.KindUnauthorized, "api key has expired")
	}

	var projectActive bool
	err = a.db.QueryRowContext(ctx, `SELECT is_active FROM projects WHERE id = $1`, projectID).Scan(&projectActive)
	if err != nil {
		return Identity{}, apierr.Wrap(apierr.KindServer, "project lookup failed", err)
	}
	if !projectActive {
		return Identity{}, apierr.New(apierr.KindUnauthorized, "project is inactive")
	}

	return Identity{ProjectID: projectID}, nil
}

// New selects the authenticator implied by cfg.
func New(cfg *config.Config, db *sql.DB) Authenticator {
	if cfg.AuthMode() == config.AuthModeProject {
		return NewProjectAuthenticator(db)
	}
	return NewLegacyAuthenticator(cfg.AegisAPIKey, "default")
}

var _ Authenticator = (*LegacyAuthenticator)(nil)
var _ Authenticator = (*ProjectAuthenticator)(nil)
