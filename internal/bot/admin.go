package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/players"
)

// Админ-команды работают только в личке.
//   /login <пароль>
//   /выдать <@ник|telegram id> <вид> [кол-во]
//   /начислить <@ник|telegram id> <сумма>

func (b *Bot) handleLogin(ctx context.Context, req *request) {
	if len(req.args) == 0 {
		b.reply(ctx, req, "🔐 /login <пароль>")
		return
	}
	if err := b.auth.Login(req.telegramID, strings.Join(req.args, " ")); err != nil {
		b.replyError(ctx, req, err)
		return
	}
	b.reply(ctx, req, "✅ Аутентификация успешна!\n/выдать <@ник> <вид> [кол-во]\n/начислить <@ник> <сумма>")
}

// findPlayer ищет игрока по @нику или telegram id.
func (b *Bot) findPlayer(ctx context.Context, ref string) (*players.Player, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return b.players.ByTelegramID(ctx, id)
	}
	return b.players.ByUsername(ctx, ref)
}

func (b *Bot) handleGrant(ctx context.Context, req *request) {
	if err := b.auth.Authorize(req.telegramID); err != nil {
		b.replyError(ctx, req, err)
		return
	}
	if len(req.args) < 2 {
		b.reply(ctx, req, "/выдать <@ник|id> <вид> [кол-во]")
		return
	}
	kind, ok := ledger.ParseKind(req.args[1])
	if !ok {
		b.replyError(ctx, req, common.ErrUnknownPowerup)
		return
	}
	amount := int64(1)
	if len(req.args) > 2 {
		n, err := strconv.ParseInt(req.args[2], 10, 64)
		if err != nil {
			b.replyError(ctx, req, common.ErrInvalidAmount)
			return
		}
		amount = n
	}
	target, err := b.findPlayer(ctx, req.args[0])
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}

	res, err := b.arcade.GrantPowerup(ctx, target.ID, kind, amount, fmt.Sprintf("выдано админом %d", req.telegramID))
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	log.WithFields(log.Fields{
		"admin":   req.telegramID,
		"user_id": target.ID,
		"kind":    kind,
		"amount":  amount,
	}).Info("Админ выдал усилители")
	b.reply(ctx, req, fmt.Sprintf("✅ %s: «%s» ×%d (теперь %d)", target.DisplayName(), kind.Title(), amount, res.Value))
}

func (b *Bot) handleCredit(ctx context.Context, req *request) {
	if err := b.auth.Authorize(req.telegramID); err != nil {
		b.replyError(ctx, req, err)
		return
	}
	if len(req.args) < 2 {
		b.reply(ctx, req, "/начислить <@ник|id> <сумма>")
		return
	}
	amount, err := strconv.ParseInt(req.args[1], 10, 64)
	if err != nil {
		b.replyError(ctx, req, common.ErrInvalidAmount)
		return
	}
	target, err := b.findPlayer(ctx, req.args[0])
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}

	res, err := b.arcade.CreditRubies(ctx, target.ID, amount, fmt.Sprintf("начислено админом %d", req.telegramID))
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	log.WithFields(log.Fields{
		"admin":   req.telegramID,
		"user_id": target.ID,
		"amount":  amount,
	}).Info("Админ начислил рубины")
	b.reply(ctx, req, fmt.Sprintf("✅ %s: %s, баланс %s",
		target.DisplayName(), common.FormatRubiesAmount(amount), common.FormatBalance(res.Value)))
}
