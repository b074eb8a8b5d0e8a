package chat

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat is one saved conversation. (Owner, ChatID) is the natural key; ID is the
// surrogate that messages hang off, so different owners may reuse a chat id.
type Chat struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ChatID    string    `gorm:"type:varchar(128);not null;uniqueIndex:uniq_chat_owner,priority:2"`
	Owner     string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_chat_owner,priority:1;index:idx_chat_owner_updated,priority:1"`
	Title     string    `gorm:"type:varchar(255);not null"`
	Model     string    `gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index:idx_chat_owner_updated,priority:2"`

	Messages []Message `gorm:"foreignKey:ChatRef;references:ID;constraint:OnDelete:CASCADE"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ChatRef   uint64    `gorm:"not null;index:idx_chat_msg_ref_ts,priority:1"`
	Role      string    `gorm:"type:varchar(16);not null"`
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index:idx_chat_msg_ref_ts,priority:2"`
}

func (Message) TableName() string { return "chat_messages" }

// MessageInput is a message as the client sends it; the store assigns the timestamp.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Chat{}, &Message{})
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}
