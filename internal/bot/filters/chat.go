// Package filters решает, в каких чатах бот отвечает.
package filters

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает личные сообщения и игровой чат.
// arcadeChatID == 0 разрешает любые группы.
type ChatFilter struct {
	arcadeChatID int64
}

func NewChatFilter(arcadeChatID int64) *ChatFilter {
	return &ChatFilter{arcadeChatID: arcadeChatID}
}

// CheckAccess сообщает, обрабатывать ли сообщение.
func (f *ChatFilter) CheckAccess(message *telego.Message) bool {
	if message == nil {
		return false
	}
	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
	})
	if message.From == nil || message.From.IsBot {
		logger.Debug("deny: нет отправителя или бот")
		return false
	}

	switch {
	case message.Chat.Type == telego.ChatTypePrivate:
		return true
	case f.arcadeChatID == 0:
		return message.Chat.Type == telego.ChatTypeGroup || message.Chat.Type == telego.ChatTypeSupergroup
	case message.Chat.ID == f.arcadeChatID:
		return true
	}
	logger.Debug("deny: не игровой чат")
	return false
}
