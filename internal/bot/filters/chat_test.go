package filters

import (
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
)

func msg(chatID int64, chatType string, from *telego.User) *telego.Message {
	return &telego.Message{Chat: telego.Chat{ID: chatID, Type: chatType}, From: from}
}

func TestChatFilter(t *testing.T) {
	user := &telego.User{ID: 7}
	bot := &telego.User{ID: 8, IsBot: true}

	fixed := NewChatFilter(-100)
	assert.True(t, fixed.CheckAccess(msg(7, telego.ChatTypePrivate, user)))
	assert.True(t, fixed.CheckAccess(msg(-100, telego.ChatTypeSupergroup, user)))
	assert.False(t, fixed.CheckAccess(msg(-200, telego.ChatTypeSupergroup, user)))
	assert.False(t, fixed.CheckAccess(msg(-100, telego.ChatTypeSupergroup, bot)))
	assert.False(t, fixed.CheckAccess(msg(-100, telego.ChatTypeSupergroup, nil)))
	assert.False(t, fixed.CheckAccess(nil))

	open := NewChatFilter(0)
	assert.True(t, open.CheckAccess(msg(-200, telego.ChatTypeGroup, user)))
	assert.False(t, open.CheckAccess(msg(-300, telego.ChatTypeChannel, user)))
}
