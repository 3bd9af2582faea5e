package store

import (
	"context"
	"database/sql"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/secrets"
)

// SecretStore is a secrets.Store over one (scope, scope_id) partition of the
// secrets table. Values are sealed at rest.
type SecretStore struct {
	repo    *Repository
	scope   secrets.Scope
	scopeID string
}

var _ secrets.Store = (*SecretStore)(nil)

func (s *SecretStore) GetDecryptedSecrets(ctx context.Context) (map[string]string, error) {
	rows, err := s.repo.db.QueryContext(ctx,
		`SELECT key, value FROM secrets WHERE scope = ? AND scope_id = ?`, string(s.scope), s.scopeID)
	if err != nil {
		return nil, s.repo.mapErr("failed to read secrets", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, sealed string
		if err := rows.Scan(&key, &sealed); err != nil {
			return nil, s.repo.mapErr("failed to scan secret", err)
		}
		value, err := s.repo.cipher.Open(sealed)
		if err != nil {
			return nil, apperrors.Internal("failed to decrypt secret "+key, err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, s.repo.mapErr("failed to read secrets", err)
	}
	return out, nil
}

// SetSecrets upserts values in a single transaction.
func (s *SecretStore) SetSecrets(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.repo.inTx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			sealed, err := s.repo.cipher.Seal(value)
			if err != nil {
				return apperrors.Internal("failed to encrypt secret "+key, err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO secrets (scope, scope_id, key, value, updated_at) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (scope, scope_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				string(s.scope), s.scopeID, key, sealed, now)
			if err != nil {
				return s.repo.mapErr("failed to write secret "+key, err)
			}
		}
		return nil
	})
}

// Keys lists the stored keys without decrypting them.
func (s *SecretStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.repo.db.QueryContext(ctx,
		`SELECT key FROM secrets WHERE scope = ? AND scope_id = ? ORDER BY key`, string(s.scope), s.scopeID)
	if err != nil {
		return nil, s.repo.mapErr("failed to list secrets", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, s.repo.mapErr("failed to scan secret key", err)
		}
		keys = append(keys, k)
	}
	return keys, s.repo.mapErr("failed to list secrets", rows.Err())
}

// SecretProvider implements secrets.Provider over the secrets table.
type SecretProvider struct {
	repo *Repository
}

var _ secrets.Provider = (*SecretProvider)(nil)

func (p *SecretProvider) Repository(repoID string) secrets.Store {
	return p.Scoped(secrets.ScopeRepository, repoID)
}

func (p *SecretProvider) Global() secrets.Store {
	return p.Scoped(secrets.ScopeGlobal, "")
}

// Scoped returns the concrete store for a scope. Global secrets use an empty scope id.
func (p *SecretProvider) Scoped(scope secrets.Scope, scopeID string) *SecretStore {
	if scope == secrets.ScopeGlobal {
		scopeID = ""
	}
	return &SecretStore{repo: p.repo, scope: scope, scopeID: scopeID}
}
