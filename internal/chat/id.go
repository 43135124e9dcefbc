package chat

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConversationID returns a UUID string matching the shape the database
// would generate itself (gen_random_uuid).
func NewConversationID() string {
	return uuid.NewString()
}

// NewMessageID returns a ULID string (26 chars). ULIDs are lexicographically
// sortable, which keeps message ids aligned with insertion order in logs.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
