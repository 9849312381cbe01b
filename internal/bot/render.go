package bot

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/ruby-arcade/internal/common"
	"serotonyl.ru/ruby-arcade/internal/games/climb"
	"serotonyl.ru/ruby-arcade/internal/ledger"
	"serotonyl.ru/ruby-arcade/internal/session"
)

// pending — сообщения игрока, отложенные до ответа на его команду.
type pending struct {
	depth int
	texts []string
}

func (b *Bot) rememberChat(userID string, chatID int64) {
	b.mu.Lock()
	b.chats[userID] = chatID
	b.mu.Unlock()
}

func (b *Bot) hold(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.outbox[userID]
	if p == nil {
		p = &pending{}
		b.outbox[userID] = p
	}
	p.depth++
}

func (b *Bot) release(ctx context.Context, userID string) {
	b.mu.Lock()
	p := b.outbox[userID]
	if p == nil {
		b.mu.Unlock()
		return
	}
	p.depth--
	if p.depth > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.outbox, userID)
	chatID, ok := b.chats[userID]
	b.mu.Unlock()

	if !ok {
		return
	}
	for _, text := range p.texts {
		b.sendMessage(ctx, chatID, text)
	}
}

// Emit реализует session.Sink: событие показывается в чате игры.
// Пока у игрока выполняется команда, сообщение ждёт ответа на неё.
func (b *Bot) Emit(e session.Event) {
	text := formatEvent(e)
	if text == "" {
		return
	}

	b.mu.Lock()
	chatID, ok := b.chats[e.UserID]
	if p := b.outbox[e.UserID]; p != nil {
		p.texts = append(p.texts, text)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if ok {
		b.sendMessage(context.Background(), chatID, text)
	}
}

func formatEvent(e session.Event) string {
	switch e.Type {
	case session.EventPowerupRefunded:
		return fmt.Sprintf("↩️ Усилитель «%s» возвращён", e.Kind.Title())
	case session.EventExtraLifeUsed:
		return "❤️ Запасная жизнь спасла от падения!"
	case session.EventEffectExpired:
		return fmt.Sprintf("⌛ Действие «%s» закончилось", e.Kind.Title())
	case session.EventSessionSettled:
		if e.Settlement != nil {
			return formatSettlement(*e.Settlement)
		}
	}
	return ""
}

func formatSettlement(st session.Settlement) string {
	var sb strings.Builder
	if st.Outcome == session.Won {
		sb.WriteString("🏔 Вершина взята!\n")
	} else {
		sb.WriteString("🪂 Игра окончена\n")
	}
	fmt.Fprintf(&sb, "Очки: %d", st.RawScore)
	if st.BaseReward != st.RawScore {
		fmt.Fprintf(&sb, " → %d с множителем", st.BaseReward)
	}
	sb.WriteByte('\n')

	if st.Wager != nil && st.Wager.Placed {
		switch {
		case st.Payout > 0:
			fmt.Fprintf(&sb, "🎲 Ставка сыграла: %s\n", common.FormatRubiesAmount(st.Payout))
		case st.Forfeited:
			fmt.Fprintf(&sb, "🎲 Ставка %s проиграна, награда сгорела\n", common.FormatBalance(st.Wager.Amount))
		default:
			fmt.Fprintf(&sb, "🎲 Ставка %s проиграна\n", common.FormatBalance(st.Wager.Amount))
		}
	}

	switch {
	case st.BalanceErr != nil:
		sb.WriteString("⚠️ Награду начислить не удалось, напиши админу")
	case st.Reward > 0:
		fmt.Fprintf(&sb, "💎 Награда: %s, баланс %s", common.FormatRubiesAmount(st.Reward), common.FormatBalance(st.Balance))
	default:
		sb.WriteString("💎 Без награды")
	}
	if st.HighScore.Updated {
		fmt.Fprintf(&sb, "\n🏆 Новый рекорд: %d!", st.HighScore.Value)
	}
	return sb.String()
}

func formatStep(res climb.StepResult, height int) string {
	var sb strings.Builder
	switch {
	case res.Slipped && !res.SavedByLife:
		fmt.Fprintf(&sb, "💥 Сорвался на высоте %d!", res.Step)
		return sb.String()
	case res.Finished && res.Outcome == session.Won:
		fmt.Fprintf(&sb, "⛰ %d/%d — наверху!", res.Step, height)
	default:
		fmt.Fprintf(&sb, "🧗 %d/%d, очки: %d", res.Step, height, res.Score)
	}
	if res.WagerWon {
		sb.WriteString("\n🎯 Отметка ставки пройдена!")
	}
	if res.Pickup != "" {
		fmt.Fprintf(&sb, "\n🎁 Найден усилитель «%s»", res.Pickup.Title())
	}
	return sb.String()
}

func formatPowerups(counts map[ledger.PowerupKind]int64) string {
	var parts []string
	for _, k := range ledger.Kinds {
		if n := counts[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s ×%d", k.Title(), n))
		}
	}
	if len(parts) == 0 {
		return "Усилителей нет"
	}
	return "Усилители: " + strings.Join(parts, ", ")
}

// formatHistoryEntry показывает строку журнала. gameTitle переводит ID игры
// из записи рекорда в название.
func formatHistoryEntry(e ledger.HistoryEntry, gameTitle func(id string) string) string {
	when := e.CreatedAt.Format("02.01 15:04")
	switch e.Type {
	case ledger.EntryPowerup:
		return fmt.Sprintf("%s %+d «%s» — %s", when, e.Amount, e.Kind.Title(), e.Description)
	case ledger.EntryHighScore:
		return fmt.Sprintf("%s 🏆 рекорд %d в игре «%s»", when, e.Amount, gameTitle(e.Description))
	}
	return fmt.Sprintf("%s %s — %s", when, common.FormatRubiesAmount(e.Amount), e.Description)
}
