package anonymize

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"io"
	"sort"
	"sync"

	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

const shardCount = 16

// SessionStore holds the category+original -> replacement mappings for one
// processing session. Inserts are atomic get-or-insert: the first writer
// wins and every later lookup for the same key returns the same value.
// The store grows monotonically and is discarded at session end unless
// exported.
type SessionStore struct {
	sessionID string
	shards    [shardCount]*storeShard

	// index tracks originals and issued replacements across all shards,
	// for collision avoidance and post-transform validation.
	indexMu      sync.RWMutex
	originals    map[string]bool
	replacements map[string]bool
	subjects     map[string]bool
}

type storeShard struct {
	mu       sync.RWMutex
	mappings map[string]string
}

// NewSessionStore creates an empty store scoped to the given session ID.
func NewSessionStore(sessionID string) *SessionStore {
	s := &SessionStore{
		sessionID:    sessionID,
		originals:    make(map[string]bool),
		replacements: make(map[string]bool),
		subjects:     make(map[string]bool),
	}
	for i := range s.shards {
		s.shards[i] = &storeShard{mappings: make(map[string]string)}
	}
	return s
}

// SessionID returns the owning session identifier.
func (s *SessionStore) SessionID() string {
	return s.sessionID
}

func (s *SessionStore) shardFor(key string) *storeShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func mappingKey(cat taxonomy.IdentifierCategory, subject, normalized string) string {
	if subject != "" {
		return cat.String() + "|" + subject + "|" + normalized
	}
	return cat.String() + "|" + normalized
}

// Lookup returns the stored replacement for a key, if any.
func (s *SessionStore) Lookup(key string) (string, bool) {
	shard := s.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	v, ok := shard.mappings[key]
	return v, ok
}

// GetOrInsert stores value under key unless a replacement already exists,
// and returns the stored value. The insert is atomic; concurrent callers
// for the same key all observe the first writer's value.
func (s *SessionStore) GetOrInsert(key, value string, cat taxonomy.IdentifierCategory) (string, bool) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	if existing, ok := shard.mappings[key]; ok {
		shard.mu.Unlock()
		return existing, false
	}
	shard.mappings[key] = value
	shard.mu.Unlock()

	s.indexMu.Lock()
	s.replacements[cat.String()+"|"+value] = true
	s.indexMu.Unlock()
	return value, true
}

// RegisterOriginal records an original value so later generation never
// issues it as a replacement for a different original.
func (s *SessionStore) RegisterOriginal(cat taxonomy.IdentifierCategory, normalized string) {
	s.indexMu.Lock()
	s.originals[cat.String()+"|"+normalized] = true
	s.indexMu.Unlock()
}

// HasOriginal reports whether the value was seen as an original for the
// category. Used for collision avoidance via store lookup, not chance.
func (s *SessionStore) HasOriginal(cat taxonomy.IdentifierCategory, normalized string) bool {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.originals[cat.String()+"|"+normalized]
}

// IsReplacement reports whether the value was issued by this session for
// the category. The validator uses this to exempt the engine's own output
// from residual-PHI detection.
func (s *SessionStore) IsReplacement(cat taxonomy.IdentifierCategory, value string) bool {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.replacements[cat.String()+"|"+value]
}

// RegisterSubject records a subject identifier seen during the session.
func (s *SessionStore) RegisterSubject(subject string) {
	if subject == "" {
		return
	}
	s.indexMu.Lock()
	s.subjects[subject] = true
	s.indexMu.Unlock()
}

// SubjectCount returns the number of unique subjects seen.
func (s *SessionStore) SubjectCount() int {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return len(s.subjects)
}

// Len returns the number of stored mappings.
func (s *SessionStore) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.mappings)
		shard.mu.RUnlock()
	}
	return n
}

// Snapshot returns a copy of all mappings keyed by the composite key.
func (s *SessionStore) Snapshot() map[string]string {
	out := make(map[string]string, s.Len())
	for _, shard := range s.shards {
		shard.mu.RLock()
		for k, v := range shard.mappings {
			out[k] = v
		}
		shard.mu.RUnlock()
	}
	return out
}

// Export writes the mapping table as CSV with salted-hash keys. The raw
// original value never leaves the process; only sha256(salt || key) does.
func (s *SessionStore) Export(w io.Writer, salt string) error {
	snapshot := s.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key_hash", "replacement"}); err != nil {
		return fmt.Errorf("failed to write mapping header: %w", err)
	}
	for _, k := range keys {
		if err := cw.Write([]string{SaltedHash(salt, k), snapshot[k]}); err != nil {
			return fmt.Errorf("failed to write mapping row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaltedHash returns hex(sha256(salt || key)).
func SaltedHash(salt, key string) string {
	sum := sha256.Sum256([]byte(salt + key))
	return hex.EncodeToString(sum[:])
}
