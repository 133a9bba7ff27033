package conversation

import (
	"context"
	"sync/atomic"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role-tagged, fully assembled piece of conversation text.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// IndexKind identifies which side of a turn an index write carries.
type IndexKind string

const (
	KindUser      IndexKind = "user"
	KindAssistant IndexKind = "assistant"
)

// Turn is one user utterance paired with at most one assistant reply.
type Turn struct {
	User      Message  `json:"user"`
	Assistant *Message `json:"assistant,omitempty"`

	// Finalized is set once by an explicit finalize request and never reverts.
	Finalized bool `json:"finalized"`

	// Indexed reports whether the parsed user content reached the indexer.
	Indexed bool `json:"indexed"`
}

// turn is the mutable record behind a Turn snapshot.
type turn struct {
	index     int
	user      Message
	assistant *Message
	finalized bool

	// assistantQueued is set once the assistant content has been handed to
	// the worker, so it is indexed at most once.
	assistantQueued bool

	// indexed is written by the worker goroutine.
	indexed atomic.Bool
}

func (t *turn) snapshot() Turn {
	s := Turn{
		User:      t.user,
		Finalized: t.finalized,
		Indexed:   t.indexed.Load(),
	}
	if t.assistant != nil {
		a := *t.assistant
		s.Assistant = &a
	}
	return s
}

// Record is the unit handed to the indexer for every write.
type Record struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TurnIndex int       `json:"turn_index"`
	Kind      IndexKind `json:"kind"`
	Content   string    `json:"content"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Extractor turns the latest user utterance into its parsed form, given the
// full rendered history. Implementations may be slow and network bound.
type Extractor interface {
	Extract(ctx context.Context, history []Message, latestUserText string) (string, error)
}

// Indexer durably records text for later search.
type Indexer interface {
	IndexText(ctx context.Context, content string) error
}

// RecordIndexer is implemented by indexers that want the full record
// (session, turn, kind) rather than only the content.
type RecordIndexer interface {
	Indexer
	IndexRecord(ctx context.Context, rec Record) error
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, history []Message, latestUserText string) (string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, history []Message, latestUserText string) (string, error) {
	return f(ctx, history, latestUserText)
}
