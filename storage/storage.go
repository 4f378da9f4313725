// Package storage holds the small per-client key-value state of the survey:
// cached answers, the admin's question list and webhook settings.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Well-known keys.
const (
	KeyResponses      = "survey_responses"
	KeyAdminQuestions = "admin_questions"
	KeyWebhook        = "google_sheet_webhook"
	KeySessionWebhook = "temp_webhook"
)

type Scope string

const (
	// ScopeLocal lives as long as the client cookie.
	ScopeLocal Scope = "local"
	// ScopeSession lives as long as the browser session.
	ScopeSession Scope = "session"
)

type Store interface {
	Load(ctx context.Context, key string) (value string, ok bool, err error)
	Save(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// SQLStore keeps values in the kv table, namespaced by scope and owner.
type SQLStore struct {
	db    *sql.DB
	scope Scope
	owner string
}

func NewSQLStore(db *sql.DB, scope Scope, owner string) *SQLStore {
	return &SQLStore{db, scope, owner}
}

func (s *SQLStore) Load(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM kv
		WHERE scope = ?
			AND owner = ?
			AND key = ?`,
		string(s.scope),
		s.owner,
		key,
	).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, pkgerrors.Wrapf(err, "kv.load %s", key)
	}
	return value, true, nil
}

func (s *SQLStore) Save(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (scope, owner, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (scope, owner, key) DO UPDATE
		SET value = excluded.value,
			updated_at = excluded.updated_at`,
		string(s.scope),
		s.owner,
		key,
		value,
		time.Now().UTC(),
	)
	return pkgerrors.Wrapf(err, "kv.save %s", key)
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM kv
		WHERE scope = ?
			AND owner = ?
			AND key = ?`,
		string(s.scope),
		s.owner,
		key,
	)
	return pkgerrors.Wrapf(err, "kv.remove %s", key)
}

// Provider hands out the store of one owner in one scope.
type Provider interface {
	Store(scope Scope, owner string) Store
}

// SQLProvider hands out SQLStores sharing one database.
type SQLProvider struct {
	DB *sql.DB
}

func (p SQLProvider) Store(scope Scope, owner string) Store {
	return NewSQLStore(p.DB, scope, owner)
}

// Prune deletes the values of scope last written before the given time and
// reports how many went.
func (p SQLProvider) Prune(ctx context.Context, scope Scope, before time.Time) (int64, error) {
	res, err := p.DB.ExecContext(ctx, `
		DELETE FROM kv
		WHERE scope = ?
			AND updated_at < ?`,
		string(scope),
		before.UTC(),
	)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "kv.prune %s", scope)
	}
	n, err := res.RowsAffected()
	return n, pkgerrors.Wrapf(err, "kv.prune %s", scope)
}

// MemoryProvider keeps the stores of every owner in process.
type MemoryProvider struct {
	mu     sync.Mutex
	stores map[Scope]map[string]*Memory
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{stores: map[Scope]map[string]*Memory{}}
}

func (p *MemoryProvider) Store(scope Scope, owner string) Store {
	p.mu.Lock()
	defer p.mu.Unlock()

	owners, ok := p.stores[scope]
	if !ok {
		owners = map[string]*Memory{}
		p.stores[scope] = owners
	}
	m, ok := owners[owner]
	if !ok {
		m = NewMemory()
		owners[owner] = m
	}
	return m
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) Load(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Save(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
