// Package assistant answers borrower questions in the context of their market.
package assistant

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"loan-orchestrator/internal/common/errors"
	"loan-orchestrator/internal/common/logger"
	"loan-orchestrator/internal/country"
	"loan-orchestrator/internal/models"
	"loan-orchestrator/internal/providers"
)

const (
	DefaultHistoryLimit = 20
	MaxMessageLength    = 2000
)

// TextGenerator is satisfied by *providers.Adapter.
type TextGenerator interface {
	GenerateText(ctx context.Context, req providers.TextRequest) providers.Generation
}

type Reply struct {
	Text     string `json:"text"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Assistant keeps a bounded conversation per user in memory.
type Assistant struct {
	generator TextGenerator
	countries *country.Table
	limit     int
	logger    logger.Logger

	mu            sync.Mutex
	conversations map[string][]providers.ChatMessage
}

func New(generator TextGenerator, countries *country.Table, historyLimit int, log logger.Logger) *Assistant {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Assistant{
		generator:     generator,
		countries:     countries,
		limit:         historyLimit,
		logger:        log.WithFields(map[string]interface{}{"component": "assistant"}),
		conversations: make(map[string][]providers.ChatMessage),
	}
}

// Ask sends message with the caller's recent history. Placeholder replies
// are returned but not remembered.
func (a *Assistant) Ask(ctx context.Context, actor models.Actor, code country.Code, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.NewInvalidInputError("message is required")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, errors.NewInvalidInputError("message is too long")
	}
	c, ok := a.countries.Lookup(code)
	if !ok {
		return nil, errors.NewInvalidInputError("unsupported country " + string(code))
	}

	history := a.History(actor.UserID)
	gen := a.generator.GenerateText(ctx, providers.TextRequest{
		Kind:    providers.TemplateChat,
		Country: c,
		History: history,
		Message: message,
	})

	if !gen.Fallback {
		a.remember(actor.UserID,
			providers.ChatMessage{Role: "user", Text: message},
			providers.ChatMessage{Role: "model", Text: gen.Text},
		)
	}
	a.logger.Debug("Assistant replied", map[string]interface{}{
		"userId":   actor.UserID,
		"country":  string(c.Code),
		"history":  len(history),
		"fallback": gen.Fallback,
	})
	return &Reply{Text: gen.Text, Fallback: gen.Fallback}, nil
}

// History returns a copy of the remembered conversation.
func (a *Assistant) History(userID string) []providers.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]providers.ChatMessage(nil), a.conversations[userID]...)
}

func (a *Assistant) Reset(userID string) {
	a.mu.Lock()
	delete(a.conversations, userID)
	a.mu.Unlock()
}

func (a *Assistant) remember(userID string, msgs ...providers.ChatMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv := append(a.conversations[userID], msgs...)
	if len(conv) > a.limit {
		conv = append([]providers.ChatMessage(nil), conv[len(conv)-a.limit:]...)
	}
	a.conversations[userID] = conv
}
