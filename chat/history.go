package chat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fabfab/docqa-agent/llm"
)

// Mode selects which conversation an exchange belongs to.
type Mode string

const (
	ModeDocument Mode = "document"
	ModeFree     Mode = "free"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDocument, "":
		return ModeDocument, nil
	case ModeFree:
		return ModeFree, nil
	default:
		return "", fmt.Errorf("unknown chat mode: %s", s)
	}
}

// History is an append-only transcript per mode, shared by every caller of
// one process.
type History struct {
	mu      sync.RWMutex
	entries map[Mode][]llm.Message
}

func NewHistory() *History {
	return &History{entries: make(map[Mode][]llm.Message)}
}

// Append records a question and the answer shown for it.
func (h *History) Append(mode Mode, question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[mode] = append(h.entries[mode],
		llm.Message{Role: llm.RoleUser, Content: question},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
}

// Entries returns a copy of the transcript for mode.
func (h *History) Entries(mode Mode) []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.Message, len(h.entries[mode]))
	copy(out, h.entries[mode])
	return out
}
