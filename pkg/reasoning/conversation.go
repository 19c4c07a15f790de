package reasoning

import (
	"strings"
	"sync"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message of the conversation.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Conversation is the append-only message log sent to the backend on every call.
// Turns are never mutated or removed once appended.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewConversation seeds a conversation with a single system turn.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if s := strings.TrimSpace(systemPrompt); s != "" {
		c.turns = append(c.turns, Turn{Role: RoleSystem, Content: s})
	}
	return c
}

func (c *Conversation) AppendUser(content string) {
	c.append(Turn{Role: RoleUser, Content: content})
}

func (c *Conversation) AppendAssistant(content string) {
	c.append(Turn{Role: RoleAssistant, Content: content})
}

func (c *Conversation) append(t Turn) {
	c.mu.Lock()
	c.turns = append(c.turns, t)
	c.mu.Unlock()
}

// Turns returns a copy of the log so callers cannot reorder or edit it.
func (c *Conversation) Turns() []Turn {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// With returns the current turns followed by extra, without appending extra.
func (c *Conversation) With(extra ...Turn) []Turn {
	out := c.Turns()
	return append(out, extra...)
}

func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Text concatenates all turn contents, used for token estimates.
func (c *Conversation) Text() string {
	var b strings.Builder
	for i, t := range c.Turns() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(t.Content)
	}
	return b.String()
}
