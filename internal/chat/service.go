package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/chatkeep/internal/logger"
	"github.com/suPer8Hu/chatkeep/internal/metrics"
)

const (
	DefaultTitle = "New Chat"
	DefaultModel = "gpt-3.5-turbo"

	maxChatIDLen = 128
	maxOwnerLen  = 64
)

// Payload is the full client-side state of one chat. Messages always replace
// what was stored before, so clients send the whole transcript.
type Payload struct {
	Title     *string        `json:"title"`
	Model     *string        `json:"model"`
	CreatedAt *time.Time     `json:"created_at"`
	Messages  []MessageInput `json:"messages"`
}

type MessageView struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type View struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Model     string        `json:"model"`
	Messages  []MessageView `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Service struct {
	store        Store
	retention    *Retention
	defaultModel string
	log          *logger.Logger
}

func NewService(store Store, retention *Retention, defaultModel string, log *logger.Logger) *Service {
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = DefaultModel
	}
	if log == nil {
		log = logger.Nop()
	}
	if retention == nil {
		retention = NewRetention(store, DefaultRetentionLimit, log)
	}
	return &Service{store: store, retention: retention, defaultModel: defaultModel, log: log.With("component", "chat")}
}

func (s *Service) RetentionLimit() int { return s.retention.Limit() }

// SaveChat creates or replaces the chat, then trims the owner back to the
// retention limit. A retention failure is reported even though the save itself
// committed; saving again is safe.
func (s *Service) SaveChat(ctx context.Context, owner, chatID string, p Payload) error {
	if err := validateKey(owner, chatID); err != nil {
		return err
	}
	for i, m := range p.Messages {
		if !validRole(m.Role) {
			return invalidf("message %d: unknown role %q", i, m.Role)
		}
	}

	title := DefaultTitle
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
		title = strings.TrimSpace(*p.Title)
	}
	model := s.defaultModel
	if p.Model != nil && strings.TrimSpace(*p.Model) != "" {
		model = strings.TrimSpace(*p.Model)
	}

	if _, err := s.store.SaveChat(ctx, SaveInput{
		Owner:     owner,
		ChatID:    chatID,
		Title:     title,
		Model:     model,
		CreatedAt: p.CreatedAt,
		Messages:  p.Messages,
	}); err != nil {
		countStoreErr(err)
		s.log.Error("save chat failed", "owner", owner, "chat_id", chatID, "err", err)
		return err
	}
	metrics.ChatsSaved.Inc()

	if _, err := s.retention.Enforce(ctx, owner); err != nil {
		s.log.Error("retention after save failed", "owner", owner, "chat_id", chatID, "err", err)
		return err
	}
	return nil
}

// ListUserChats returns the owner's chats, most recently updated first.
func (s *Service) ListUserChats(ctx context.Context, owner string) ([]View, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, invalidf("owner is required")
	}
	rows, err := s.store.ListChatsWithMessages(ctx, owner, s.retention.Limit())
	if err != nil {
		countStoreErr(err)
		return nil, err
	}
	out := make([]View, 0, len(rows))
	for _, row := range rows {
		msgs := make([]MessageView, 0, len(row.Messages))
		for _, m := range row.Messages {
			msgs = append(msgs, MessageView{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
		}
		out = append(out, View{
			ID:        row.ChatID,
			Title:     row.Title,
			Model:     row.Model,
			Messages:  msgs,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}

// GetUserChats is ListUserChats keyed by chat id. No chats is an empty map.
func (s *Service) GetUserChats(ctx context.Context, owner string) (map[string]View, error) {
	views, err := s.ListUserChats(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make(map[string]View, len(views))
	for _, v := range views {
		out[v.ID] = v
	}
	return out, nil
}

// DeleteChat never tells the caller whether the chat existed or belonged to
// someone else.
func (s *Service) DeleteChat(ctx context.Context, owner, chatID string) error {
	if err := validateKey(owner, chatID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteChat(ctx, owner, chatID)
	if err != nil {
		countStoreErr(err)
		return err
	}
	if deleted {
		metrics.ChatsDeleted.Inc()
	}
	return nil
}

func validateKey(owner, chatID string) error {
	switch {
	case strings.TrimSpace(owner) == "":
		return invalidf("owner is required")
	case len(owner) > maxOwnerLen:
		return invalidf("owner longer than %d bytes", maxOwnerLen)
	case strings.TrimSpace(chatID) == "":
		return invalidf("chat id is required")
	case len(chatID) > maxChatIDLen:
		return invalidf("chat id longer than %d bytes", maxChatIDLen)
	}
	return nil
}

func countStoreErr(err error) {
	switch {
	case errors.Is(err, ErrConnectivity):
		metrics.StoreErrors.WithLabelValues("connectivity").Inc()
	case errors.Is(err, ErrConstraint):
		metrics.StoreErrors.WithLabelValues("constraint").Inc()
	default:
		metrics.StoreErrors.WithLabelValues("other").Inc()
	}
}
