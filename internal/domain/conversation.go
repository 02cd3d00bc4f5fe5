package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a conversation. Meta carries structured values that the
// session store folds into the conversation's entity map.
type Turn struct {
	Role Role
	Text string
	At   time.Time
	Meta map[string]string
}

// TranscriptMessage is a persisted question/answer pair.
type TranscriptMessage struct {
	PK             string
	SK             string
	ConversationID string
	Question       string
	Answer         string
	Intent         string
	TTL            int64
}

// ConversationMeta is the per-conversation summary row kept next to the
// transcript messages.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	Owner          string
	LastActivity   string
	TTL            int64
}
