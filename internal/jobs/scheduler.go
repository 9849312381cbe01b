// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: закрытие брошенных партий
// и ежедневный подарок активным игрокам.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Arcade — то, что задачам нужно от сервиса аркады.
type Arcade interface {
	ReapIdle(ctx context.Context, idle time.Duration) int
	DailyGift(ctx context.Context) (int, error)
}

// Options — расписание задач. Пустое расписание отключает задачу.
type Options struct {
	Location     *time.Location
	ReapSchedule string
	Idle         time.Duration
	GiftSchedule string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron   *cron.Cron
	arcade Arcade
	opts   Options
}

// NewScheduler создаёт планировщик в часовом поясе opts.Location.
func NewScheduler(arcade Arcade, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(opts.Location)),
		arcade: arcade,
		opts:   opts,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.ReapSchedule != "" {
		if _, err := s.cron.AddFunc(s.opts.ReapSchedule, func() { s.reap(ctx) }); err != nil {
			return fmt.Errorf("расписание закрытия партий %q: %w", s.opts.ReapSchedule, err)
		}
	}
	if s.opts.GiftSchedule != "" {
		if _, err := s.cron.AddFunc(s.opts.GiftSchedule, func() { s.gift(ctx) }); err != nil {
			return fmt.Errorf("расписание подарков %q: %w", s.opts.GiftSchedule, err)
		}
	}

	s.cron.Start()
	log.WithField("location", s.opts.Location.String()).Info("Планировщик задач запущен")
	return nil
}

func (s *Scheduler) reap(ctx context.Context) {
	if n := s.arcade.ReapIdle(ctx, s.opts.Idle); n > 0 {
		log.WithField("count", n).Info("[CRON] Закрыты брошенные партии")
	}
}

func (s *Scheduler) gift(ctx context.Context) {
	log.Info("[CRON] Ежедневный подарок")
	if _, err := s.arcade.DailyGift(ctx); err != nil {
		log.WithError(err).Error("[CRON] Ошибка раздачи подарков")
	}
}

// Stop останавливает планировщик и ждёт запущенные задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
