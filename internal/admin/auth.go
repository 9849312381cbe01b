package admin

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/common"
)

const (
	maxFailedAttempts = 3
	attemptWindow     = time.Hour
	sessionTTL        = 24 * time.Hour
)

// Auth хранит сессии администраторов в памяти процесса.
// После maxFailedAttempts неудачных попыток за attemptWindow вход блокируется.
type Auth struct {
	hash string
	ids  map[int64]bool

	mu       sync.Mutex
	sessions map[int64]time.Time   // telegram id → истечение
	failures map[int64][]time.Time // неудачные попытки
	now      func() time.Time
}

// NewAuth создаёт проверку входа для списка telegram ID с общим хешем пароля.
func NewAuth(passwordHash string, adminIDs []int64) *Auth {
	ids := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = true
	}
	return &Auth{
		hash:     passwordHash,
		ids:      ids,
		sessions: make(map[int64]time.Time),
		failures: make(map[int64][]time.Time),
		now:      time.Now,
	}
}

// IsAdmin сообщает, входит ли пользователь в список администраторов.
func (a *Auth) IsAdmin(telegramID int64) bool {
	return a.ids[telegramID]
}

// Login проверяет пароль и открывает сессию на сутки.
func (a *Auth) Login(telegramID int64, password string) error {
	if !a.IsAdmin(telegramID) {
		return common.ErrNotAdmin
	}

	a.mu.Lock()
	now := a.now()
	recent := a.recentFailuresLocked(telegramID, now)
	if len(recent) >= maxFailedAttempts {
		a.mu.Unlock()
		return common.ErrTooManyAttempts
	}
	a.mu.Unlock()

	ok := a.hash != "" && VerifyPassword(password, a.hash)

	a.mu.Lock()
	defer a.mu.Unlock()
	logger := log.WithField("telegram_id", telegramID)
	if !ok {
		a.failures[telegramID] = append(a.recentFailuresLocked(telegramID, now), now)
		logger.Warn("Неудачная попытка входа в админку")
		return common.ErrWrongPassword
	}
	delete(a.failures, telegramID)
	a.sessions[telegramID] = now.Add(sessionTTL)
	logger.Info("Админ вошёл")
	return nil
}

func (a *Auth) recentFailuresLocked(telegramID int64, now time.Time) []time.Time {
	var recent []time.Time
	for _, at := range a.failures[telegramID] {
		if now.Sub(at) < attemptWindow {
			recent = append(recent, at)
		}
	}
	a.failures[telegramID] = recent
	return recent
}

// Authorize возвращает nil, если у администратора есть действующая сессия.
func (a *Auth) Authorize(telegramID int64) error {
	if !a.IsAdmin(telegramID) {
		return common.ErrNotAdmin
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	exp, ok := a.sessions[telegramID]
	if !ok || !a.now().Before(exp) {
		delete(a.sessions, telegramID)
		return common.ErrSessionExpired
	}
	return nil
}

// Logout закрывает сессию.
func (a *Auth) Logout(telegramID int64) {
	a.mu.Lock()
	delete(a.sessions, telegramID)
	a.mu.Unlock()
}
