package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/arcade"
	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/players"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// request — разобранная команда игрока.
type request struct {
	chatID     int64
	telegramID int64
	player     *players.Player
	private    bool
	cmd        string
	args       []string
}

const helpText = `💎 Рубиновая аркада

!играть [игра] — начать игру (!игры — список)
!шаг — шаг вверх
!усилитель <вид> — взять усилитель: множитель, жизнь, ставка, страховка, гравитация
!ставка <n> — поставить рубины, !отмена — передумать
!стоп — забрать очки и закончить
!рубины — баланс и усилители
!рекорды — лучшие результаты
!история — последние операции`

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, req *request) {
	log.WithFields(log.Fields{
		"cmd":     req.cmd,
		"args":    req.args,
		"user_id": req.player.ID,
	}).Debug("routing command")

	switch req.cmd {
	case "start", "help", "помощь":
		b.reply(ctx, req, helpText)
	case "рубины", "баланс":
		b.handleBalance(ctx, req)
	case "рекорды":
		b.handleHighScores(ctx, req)
	case "игры":
		b.handleGames(ctx, req)
	case "играть":
		b.handlePlay(ctx, req)
	case "усилитель":
		b.handleArm(ctx, req)
	case "ставка":
		b.handleStake(ctx, req)
	case "отмена":
		b.handleCancel(ctx, req)
	case "шаг", "ш":
		b.handleStep(ctx, req)
	case "стоп":
		b.handleStop(ctx, req)
	case "история":
		b.handleHistory(ctx, req)

	case "login", "вход":
		if req.private {
			b.handleLogin(ctx, req)
		}
	case "logout", "выход":
		if req.private {
			b.auth.Logout(req.telegramID)
			b.reply(ctx, req, "👋 Сессия администратора закрыта")
		}
	case "выдать":
		if req.private {
			b.handleGrant(ctx, req)
		}
	case "начислить":
		if req.private {
			b.handleCredit(ctx, req)
		}
	}
}

func (b *Bot) reply(ctx context.Context, req *request, text string) {
	b.sendMessage(ctx, req.chatID, text)
}

// replyError показывает игроку понятную причину отказа. Сбои хранилища
// логируются и показываются общим текстом.
func (b *Bot) replyError(ctx context.Context, req *request, err error) {
	if text, ok := userMessage(err); ok {
		b.reply(ctx, req, "❌ "+text)
		return
	}
	log.WithError(err).WithFields(log.Fields{
		"cmd":     req.cmd,
		"user_id": req.player.ID,
	}).Error("Ошибка команды")
	b.reply(ctx, req, "⚠️ Что-то пошло не так, попробуй ещё раз")
}

var userErrors = []error{
	common.ErrInsufficientFunds,
	common.ErrInvalidAmount,
	common.ErrPlayerNotFound,
	common.ErrInsufficientPowerups,
	common.ErrUnknownPowerup,
	common.ErrUnknownGame,
	common.ErrGameInProgress,
	common.ErrNoActiveGame,
	common.ErrNotAdmin,
	common.ErrWrongPassword,
	common.ErrTooManyAttempts,
	common.ErrSessionExpired,
	session.ErrSessionNotActive,
	session.ErrPowerupAlreadyUsed,
	session.ErrPowerupNotSupported,
	session.ErrArmInProgress,
	session.ErrNoStakeOpen,
	session.ErrStakeInProgress,
	arcade.ErrHistoryUnsupported,
}

func userMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ledger.ErrUnknownKind):
		return common.ErrUnknownPowerup.Error(), true
	case errors.Is(err, ledger.ErrTransactionAborted):
		return "операция не прошла, попробуй ещё раз", true
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func (b *Bot) handleBalance(ctx context.Context, req *request) {
	snap, err := b.arcade.Account(ctx, req.player.ID)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "💎 %s: %s\n", req.player.DisplayName(), common.FormatBalance(snap.Rubies))
	sb.WriteString(formatPowerups(snap.Powerups))
	b.reply(ctx, req, sb.String())
}

func (b *Bot) handleHighScores(ctx context.Context, req *request) {
	snap, err := b.arcade.Account(ctx, req.player.ID)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	var sb strings.Builder
	sb.WriteString("🏆 Рекорды\n")
	for _, g := range b.arcade.Catalog().List() {
		fmt.Fprintf(&sb, "%s: %d\n", g.Title, snap.HighScores[g.ID])
	}
	b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleGames(ctx context.Context, req *request) {
	var sb strings.Builder
	sb.WriteString("🎮 Игры\n")
	for _, g := range b.arcade.Catalog().List() {
		fmt.Fprintf(&sb, "• %s (%s) — %s\n", g.Title, g.ID, g.Description)
	}
	b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}

// gameTitle возвращает название игры по ID или сам ID, если игры нет в каталоге.
func (b *Bot) gameTitle(id string) string {
	if g, err := b.arcade.Catalog().Get(id); err == nil {
		return g.Title
	}
	return id
}

// gameByName ищет игру по ID или названию без учёта регистра.
func (b *Bot) gameByName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, g := range b.arcade.Catalog().List() {
		if strings.ToLower(g.Title) == name {
			return g.ID
		}
	}
	return name
}

func (b *Bot) handlePlay(ctx context.Context, req *request) {
	gameID := ""
	if len(req.args) > 0 {
		gameID = b.gameByName(strings.Join(req.args, " "))
	}

	b.rememberChat(req.player.ID, req.chatID)
	play, err := b.arcade.StartGame(ctx, req.player.ID, gameID)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}

	rules := play.Game.Rules
	var sb strings.Builder
	fmt.Fprintf(&sb, "🧗 %s: %s\n", play.Game.Title, play.Game.Description)
	fmt.Fprintf(&sb, "Высота %d, отметка для ставки — %d. Время: %s.\n",
		rules.Height, rules.Milestone, rules.TimeLimit)
	sb.WriteString("!шаг — вверх, !стоп — забрать очки.\n")
	sb.WriteString(formatPowerups(play.Session.Inventory().Counts()))
	b.reply(ctx, req, sb.String())
}

func (b *Bot) handleArm(ctx context.Context, req *request) {
	if len(req.args) == 0 {
		b.reply(ctx, req, "Какой усилитель? множитель, жизнь, ставка, страховка, гравитация")
		return
	}
	kind, ok := ledger.ParseKind(req.args[0])
	if !ok {
		b.replyError(ctx, req, common.ErrUnknownPowerup)
		return
	}

	res, err := b.arcade.ArmPowerup(ctx, req.player.ID, kind)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	if kind == ledger.Betting {
		b.reply(ctx, req, "🎲 "+stakePrompt(res)+"\n!ставка <n> или !отмена")
		return
	}
	b.reply(ctx, req, fmt.Sprintf("✨ Усилитель «%s» в деле!", kind.Title()))
}

func stakePrompt(res session.ArmResult) string {
	if strings.Contains(res.Prompt, "%d") {
		return fmt.Sprintf(res.Prompt, res.StakeMax)
	}
	if res.Prompt != "" {
		return res.Prompt
	}
	return fmt.Sprintf("Сколько ставишь? (%d–%d)", res.StakeMin, res.StakeMax)
}

func (b *Bot) handleStake(ctx context.Context, req *request) {
	if len(req.args) == 0 {
		b.reply(ctx, req, "Сколько ставишь? !ставка <n>")
		return
	}
	stake, err := strconv.ParseInt(req.args[0], 10, 64)
	if err != nil || stake <= 0 {
		b.replyError(ctx, req, common.ErrInvalidAmount)
		return
	}
	if err := b.arcade.CommitStake(ctx, req.player.ID, stake); err != nil {
		if errors.Is(err, session.ErrInvalidStake) {
			play, perr := b.arcade.Current(req.player.ID)
			if perr == nil {
				b.reply(ctx, req, fmt.Sprintf("❌ Ставка от 1 до %d", play.Game.Economy.Betting.PresetCap))
				return
			}
		}
		b.replyError(ctx, req, err)
		return
	}
	b.reply(ctx, req, fmt.Sprintf("🎲 Ставка %s принята. Доберись до отметки!", common.FormatBalance(stake)))
}

func (b *Bot) handleCancel(ctx context.Context, req *request) {
	if err := b.arcade.CancelStake(ctx, req.player.ID); err != nil {
		b.replyError(ctx, req, err)
		return
	}
	b.reply(ctx, req, "Ставка отменена")
}

func (b *Bot) handleStep(ctx context.Context, req *request) {
	b.rememberChat(req.player.ID, req.chatID)
	res, play, err := b.arcade.Step(ctx, req.player.ID)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	b.reply(ctx, req, formatStep(res, play.Game.Rules.Height))
}

func (b *Bot) handleStop(ctx context.Context, req *request) {
	play, err := b.arcade.Current(req.player.ID)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	height := play.Run.Height()
	if _, err := b.arcade.Stop(ctx, req.player.ID); err != nil {
		b.replyError(ctx, req, err)
		return
	}
	b.reply(ctx, req, fmt.Sprintf("🏁 Спуск с высоты %d", height))
}

func (b *Bot) handleHistory(ctx context.Context, req *request) {
	entries, err := b.arcade.History(ctx, req.player.ID, ledger.DefaultHistoryLimit)
	if err != nil {
		b.replyError(ctx, req, err)
		return
	}
	if len(entries) == 0 {
		b.reply(ctx, req, "📜 Операций пока нет")
		return
	}
	var sb strings.Builder
	sb.WriteString("📜 Последние операции\n")
	for _, e := range entries {
		sb.WriteString(formatHistoryEntry(e, b.gameTitle))
		sb.WriteByte('\n')
	}
	b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}
