package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the durable side of chat history. Every method runs against the
// database directly; nothing is cached in process.
type Store interface {
	// SaveChat upserts the chat row and replaces its messages in one transaction.
	SaveChat(ctx context.Context, in SaveInput) (*Chat, error)
	UpsertChat(ctx context.Context, owner, chatID, title, model string, createdAt *time.Time) (*Chat, error)
	ReplaceMessages(ctx context.Context, owner, chatID string, msgs []MessageInput) error
	// ListChats orders by updated_at DESC, chat_id ASC. limit <= 0 means no limit.
	ListChats(ctx context.Context, owner string, limit int) ([]Chat, error)
	// ListChatsWithMessages is ListChats with each chat's transcript preloaded.
	ListChatsWithMessages(ctx context.Context, owner string, limit int) ([]Chat, error)
	ListMessages(ctx context.Context, owner, chatID string) ([]Message, error)
	// DeleteChat reports whether a row owned by owner was removed.
	DeleteChat(ctx context.Context, owner, chatID string) (bool, error)
	// EvictBeyond deletes every chat of owner past the first keep in ListChats
	// order and returns the evicted chat ids.
	EvictBeyond(ctx context.Context, owner string, keep int) ([]string, error)
	ListOwners(ctx context.Context) ([]string, error)
}

type SaveInput struct {
	Owner     string
	ChatID    string
	Title     string
	Model     string
	CreatedAt *time.Time
	Messages  []MessageInput
}

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

type RepoOption func(*Repo)

// WithClock replaces the clock used for updated_at and message timestamps.
func WithClock(now func() time.Time) RepoOption {
	return func(r *Repo) { r.now = now }
}

func NewRepo(db *gorm.DB, opts ...RepoOption) *Repo {
	r := &Repo{db: db, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Store = (*Repo)(nil)

// Millisecond precision survives every supported dialect unchanged.
func (r *Repo) stamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func (r *Repo) SaveChat(ctx context.Context, in SaveInput) (*Chat, error) {
	now := r.stamp()
	var saved *Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := upsertChat(tx, in.Owner, in.ChatID, in.Title, in.Model, in.CreatedAt, now)
		if err != nil {
			return err
		}
		if err := replaceMessages(tx, row.ID, in.Messages, now); err != nil {
			return err
		}
		saved = row
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("save chat", err)
	}
	return saved, nil
}

func (r *Repo) UpsertChat(ctx context.Context, owner, chatID, title, model string, createdAt *time.Time) (*Chat, error) {
	now := r.stamp()
	var saved *Chat
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := upsertChat(tx, owner, chatID, title, model, createdAt, now)
		saved = row
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("upsert chat", err)
	}
	return saved, nil
}

func (r *Repo) ReplaceMessages(ctx context.Context, owner, chatID string, msgs []MessageInput) error {
	now := r.stamp()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findChat(tx, owner, chatID)
		if err != nil {
			return err
		}
		return replaceMessages(tx, row.ID, msgs, now)
	})
	return wrapStoreErr("replace messages", err)
}

func (r *Repo) ListChats(ctx context.Context, owner string, limit int) ([]Chat, error) {
	var out []Chat
	if err := ownerChats(r.db.WithContext(ctx), owner, limit).Find(&out).Error; err != nil {
		return nil, wrapStoreErr("list chats", err)
	}
	return out, nil
}

func (r *Repo) ListChatsWithMessages(ctx context.Context, owner string, limit int) ([]Chat, error) {
	var out []Chat
	err := ownerChats(r.db.WithContext(ctx), owner, limit).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order(messageOrder)
		}).
		Find(&out).Error
	if err != nil {
		return nil, wrapStoreErr("list chats", err)
	}
	return out, nil
}

func (r *Repo) ListMessages(ctx context.Context, owner, chatID string) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Model(&Message{}).
		Joins("JOIN chats ON chats.id = chat_messages.chat_ref").
		Where("chats.owner = ? AND chats.chat_id = ?", owner, chatID).
		Order(messageOrder).
		Find(&msgs).Error
	if err != nil {
		return nil, wrapStoreErr("list messages", err)
	}
	return msgs, nil
}

func (r *Repo) DeleteChat(ctx context.Context, owner, chatID string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findChat(tx, owner, chatID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := deleteByRefs(tx, []uint64{row.ID}); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, wrapStoreErr("delete chat", err)
	}
	return deleted, nil
}

func (r *Repo) EvictBeyond(ctx context.Context, owner string, keep int) ([]string, error) {
	if keep < 0 {
		keep = 0
	}
	var evicted []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Chat
		if err := ownerChats(tx, owner, 0).Select("id", "chat_id").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) <= keep {
			return nil
		}
		refs := make([]uint64, 0, len(rows)-keep)
		for _, row := range rows[keep:] {
			refs = append(refs, row.ID)
			evicted = append(evicted, row.ChatID)
		}
		return deleteByRefs(tx, refs)
	})
	if err != nil {
		return nil, wrapStoreErr("evict chats", err)
	}
	return evicted, nil
}

func (r *Repo) ListOwners(ctx context.Context) ([]string, error) {
	var owners []string
	if err := r.db.WithContext(ctx).Model(&Chat{}).Distinct().Order("owner").Pluck("owner", &owners).Error; err != nil {
		return nil, wrapStoreErr("list owners", err)
	}
	return owners, nil
}

var messageOrder = clause.OrderBy{Columns: []clause.OrderByColumn{
	{Column: clause.Column{Table: "chat_messages", Name: "timestamp"}},
	{Column: clause.Column{Table: "chat_messages", Name: "id"}},
}}

// ownerChats is the single place retention and listing agree on order.
func ownerChats(db *gorm.DB, owner string, limit int) *gorm.DB {
	q := db.Model(&Chat{}).
		Where("owner = ?", owner).
		Order("updated_at DESC").
		Order("chat_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func upsertChat(tx *gorm.DB, owner, chatID, title, model string, createdAt *time.Time, now time.Time) (*Chat, error) {
	created := now
	if createdAt != nil && !createdAt.IsZero() {
		created = createdAt.UTC().Truncate(time.Millisecond)
	}
	row := &Chat{
		ChatID:    chatID,
		Owner:     owner,
		Title:     title,
		Model:     model,
		CreatedAt: created,
		UpdatedAt: now,
	}
	// created_at stays out of the update set.
	err := tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "model", "updated_at"}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	// RETURNING/LastInsertId are not reliable for the update branch on every dialect.
	return findChat(tx, owner, chatID)
}

func findChat(tx *gorm.DB, owner, chatID string) (*Chat, error) {
	var row Chat
	err := tx.Where("owner = ? AND chat_id = ?", owner, chatID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func replaceMessages(tx *gorm.DB, chatRef uint64, msgs []MessageInput, now time.Time) error {
	if err := tx.Where("chat_ref = ?", chatRef).Delete(&Message{}).Error; err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, Message{
			ChatRef:   chatRef,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: now,
		})
	}
	// ascending ids keep insertion order for messages sharing one timestamp
	return tx.CreateInBatches(&rows, 100).Error
}

// deleteByRefs removes messages before chats so the result is the same whether
// or not the dialect enforces ON DELETE CASCADE.
func deleteByRefs(tx *gorm.DB, refs []uint64) error {
	if len(refs) == 0 {
		return nil
	}
	if err := tx.Where("chat_ref IN ?", refs).Delete(&Message{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", refs).Delete(&Chat{}).Error
}
