package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound is returned when a user id has no profile record.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileDirectory is the read-only lookup for counterpart display names in
// conversation summaries. The profile data itself is owned by the external
// profile service.
type ProfileDirectory interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// StaticDirectory is an in-memory ProfileDirectory for dev and tests.
type StaticDirectory struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewStaticDirectory constructs a StaticDirectory from an initial name map.
func NewStaticDirectory(names map[string]string) *StaticDirectory {
	d := &StaticDirectory{names: make(map[string]string, len(names))}
	for id, name := range names {
		d.names[id] = name
	}
	return d
}

// Put registers or replaces a display name.
func (d *StaticDirectory) Put(userID, name string) {
	d.mu.Lock()
	d.names[userID] = name
	d.mu.Unlock()
}

// DisplayName resolves a display name.
func (d *StaticDirectory) DisplayName(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	name, ok := d.names[userID]
	d.mu.RUnlock()
	if !ok {
		return "", ErrProfileNotFound
	}
	return name, nil
}

// PostgresDirectory reads display names from the profiles table maintained by
// the profile service. Read-only: this repo never writes profile rows.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresDirectory constructs a directory over the shared pool.
func NewPostgresDirectory(pool *pgxpool.Pool, schema string) (*PostgresDirectory, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "ideamart"
	}
	return &PostgresDirectory{pool: pool, schema: schema}, nil
}

// DisplayName resolves a display name from the profiles table.
func (d *PostgresDirectory) DisplayName(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	profiles := pgx.Identifier{d.schema, "profiles"}.Sanitize()

	var name string
	err := d.pool.QueryRow(ctx,
		`SELECT display_name FROM `+profiles+` WHERE user_id = $1`,
		userID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrProfileNotFound
	}
	if err != nil {
		return "", err
	}
	return name, nil
}
