package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements ConversationStore and MessageStore on PostgreSQL.
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool; the caller closes it.
//
// Concurrency model:
//   - The unordered-pair uniqueness of conversations comes from a unique
//     expression index, so concurrent GetOrCreate calls from both
//     participants dedupe at the store, not via in-process locks.
//   - Append and Delete take a per-conversation transactional advisory lock
//     so the spam-guard and reply-lock checks commit atomically with their
//     writes (see DESIGN.md).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ideamart").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "ideamart",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the chat tables and indexes when absent. Intended for
// dev and tests; production schema management belongs to migrations.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	conversations := s.table("conversations")
	messages := s.table("messages")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + schema,

		`CREATE TABLE IF NOT EXISTS ` + conversations + ` (
			id            UUID PRIMARY KEY,
			participant_a TEXT NOT NULL,
			participant_b TEXT NOT NULL,
			last_message  TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (participant_a <> participant_b)
		)`,

		// Uniqueness of the unordered pair lives here, not in application code.
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_key
		   ON ` + conversations + ` (least(participant_a, participant_b), greatest(participant_a, participant_b))`,

		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
			id              TEXT PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES ` + conversations + `(id) ON DELETE CASCADE,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			read            BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE INDEX IF NOT EXISTS messages_conversation_created
		   ON ` + messages + ` (conversation_id, created_at)`,
	}

	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GetOrCreate looks the unordered pair up in both orientations and inserts on
// absence. A concurrent insert from the counterpart's session loses on the
// unique pair index and falls back to re-reading the winner's row.
func (s *PostgresStore) GetOrCreate(ctx context.Context, requesterID, recipientID string) (Conversation, error) {
	requesterID = strings.TrimSpace(requesterID)
	recipientID = strings.TrimSpace(recipientID)
	if requesterID == "" || recipientID == "" {
		return Conversation{}, fmt.Errorf("chat: empty participant id")
	}
	if requesterID == recipientID {
		return Conversation{}, ErrSelfConversation
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	conversations := s.table("conversations")

	lookup := `SELECT id, participant_a, participant_b, last_message, created_at, updated_at
	             FROM ` + conversations + `
	            WHERE (participant_a = $1 AND participant_b = $2)
	               OR (participant_a = $2 AND participant_b = $1)`

	c, err := scanConversation(s.pool.QueryRow(ctx, lookup, requesterID, recipientID))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, err
	}

	now := time.Now().UTC()
	inserted, err := scanConversation(s.pool.QueryRow(ctx,
		`INSERT INTO `+conversations+` (id, participant_a, participant_b, last_message, created_at, updated_at)
		 VALUES ($1, $2, $3, '', $4, $4)
		 ON CONFLICT (least(participant_a, participant_b), greatest(participant_a, participant_b)) DO NOTHING
		 RETURNING id, participant_a, participant_b, last_message, created_at, updated_at`,
		NewConversationID(), requesterID, recipientID, now,
	))
	if err == nil {
		return inserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, err
	}

	// Lost the race: the counterpart created the pair first.
	return scanConversation(s.pool.QueryRow(ctx, lookup, requesterID, recipientID))
}

// Get returns a conversation by id.
func (s *PostgresStore) Get(ctx context.Context, conversationID string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}

	c, err := scanConversation(s.pool.QueryRow(ctx,
		`SELECT id, participant_a, participant_b, last_message, created_at, updated_at
		   FROM `+s.table("conversations")+`
		  WHERE id = $1`,
		conversationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	return c, err
}

// ListForViewer returns the viewer's conversations ordered by updated_at descending.
func (s *PostgresStore) ListForViewer(ctx context.Context, viewerID string) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_a, participant_b, last_message, created_at, updated_at
		   FROM `+s.table("conversations")+`
		  WHERE participant_a = $1 OR participant_b = $1
		  ORDER BY updated_at DESC`,
		viewerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Append inserts a message. The advisory lock serializes all writes per
// conversation so the spam guard and timestamp allocation commit atomically
// with the insert.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversation(ctx, tx, in.ConversationID); err != nil {
		return Message{}, err
	}

	conversations := s.table("conversations")
	messages := s.table("messages")

	var a, b string
	err = tx.QueryRow(ctx,
		`SELECT participant_a, participant_b FROM `+conversations+` WHERE id = $1`,
		in.ConversationID,
	).Scan(&a, &b)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrConversationNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if in.SenderID != a && in.SenderID != b {
		return Message{}, ErrNotParticipant
	}

	recent, err := s.recentMessages(ctx, tx, in.ConversationID)
	if err != nil {
		return Message{}, err
	}
	if err := CheckSpamGuard(recent, in.SenderID); err != nil {
		return Message{}, err
	}

	// Strictly increasing created_at per conversation, even against clock skew.
	if len(recent) > 0 && !now.After(recent[0].CreatedAt) {
		now = recent[0].CreatedAt.Add(time.Microsecond)
	}

	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (id, conversation_id, sender_id, content, created_at, read)
		 VALUES ($1, $2, $3, $4, $5, FALSE)`,
		id, in.ConversationID, in.SenderID, in.Content, now,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+conversations+` SET last_message = $2, updated_at = $3 WHERE id = $1`,
		in.ConversationID, in.Content, now,
	); err != nil {
		return Message{}, fmt.Errorf("bump conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return Message{
		ID:             id,
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Content:        in.Content,
		CreatedAt:      now,
		Read:           false,
	}, nil
}

// Edit replaces content in place, sender-only.
func (s *PostgresStore) Edit(ctx context.Context, messageID, requesterID, newContent string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := s.table("messages")

	var m Message
	err = tx.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read
		   FROM `+messages+`
		  WHERE id = $1
		  FOR UPDATE`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Read)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if m.SenderID != requesterID {
		return Message{}, ErrNotOwner
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+messages+` SET content = $2 WHERE id = $1`,
		messageID, newContent,
	); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	m.Content = newContent
	return m, nil
}

// Delete removes a message. The reply lock is re-evaluated here, inside the
// transaction and under the conversation's advisory lock, so a reply that
// raced ahead of the delete is always observed.
func (s *PostgresStore) Delete(ctx context.Context, messageID, requesterID string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	messages := s.table("messages")

	var m Message
	err = tx.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read
		   FROM `+messages+` WHERE id = $1`,
		messageID,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Read)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrMessageNotFound
	}
	if err != nil {
		return Message{}, err
	}
	if m.SenderID != requesterID {
		return Message{}, ErrNotOwner
	}

	if err := lockConversation(ctx, tx, m.ConversationID); err != nil {
		return Message{}, err
	}

	var replied bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM `+messages+`
		     WHERE conversation_id = $1 AND created_at > $2 AND sender_id <> $3
		 )`,
		m.ConversationID, m.CreatedAt, m.SenderID,
	).Scan(&replied); err != nil {
		return Message{}, err
	}
	if replied {
		return Message{}, ErrAlreadyReplied
	}

	tag, err := tx.Exec(ctx, `DELETE FROM `+messages+` WHERE id = $1`, messageID)
	if err != nil {
		return Message{}, err
	}
	if tag.RowsAffected() == 0 {
		return Message{}, ErrMessageNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return m, nil
}

// List returns the surviving messages ascending by created_at.
func (s *PostgresStore) List(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read
		   FROM `+s.table("messages")+`
		  WHERE conversation_id = $1
		  ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Read); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountUnread applies the unread formula for viewerID.
func (s *PostgresStore) CountUnread(ctx context.Context, conversationID, viewerID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table("messages")+`
		  WHERE conversation_id = $1 AND sender_id <> $2 AND NOT read`,
		conversationID, viewerID,
	).Scan(&n)
	return n, err
}

// recentMessages returns up to the two most recent messages, newest first.
func (s *PostgresStore) recentMessages(ctx context.Context, tx pgx.Tx, conversationID string) ([]Message, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, conversation_id, sender_id, content, created_at, read
		   FROM `+s.table("messages")+`
		  WHERE conversation_id = $1
		  ORDER BY created_at DESC
		  LIMIT 2`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, 2)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Read); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// lockConversation serializes writes per conversation for the transaction.
// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
func lockConversation(ctx context.Context, tx pgx.Tx, conversationID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, conversationID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgIdent(s.schema, name)
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessage, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}
