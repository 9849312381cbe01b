// Package httpapi — HTTP API только для чтения: здоровье, каталог игр, счета игроков.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/ruby-arcade/internal/arcade"
	"serotonyl.ru/ruby-arcade/internal/ledger"
)

// Server отдаёт состояние аркады по HTTP.
type Server struct {
	arcade    *arcade.Service
	startTime time.Time
	http      *http.Server
}

// NewServer создаёт сервер на адресе addr.
func NewServer(addr string, svc *arcade.Service) *Server {
	s := &Server{arcade: svc, startTime: time.Now()}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes собирает маршруты.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/games", s.handleListGames)
		r.Get("/accounts/{userID}", s.handleAccount)
		r.Get("/accounts/{userID}/history", s.handleHistory)
	})
	return r
}

// ListenAndServe блокируется до Shutdown.
func (s *Server) ListenAndServe() error {
	log.WithField("addr", s.http.Addr).Info("HTTP API запущен")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"component":  "http",
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP запрос")
	})
}

type healthResponse struct {
	Status         string `json:"status"`
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"active_sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		ActiveSessions: s.arcade.Active(),
	})
}

type gameResponse struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Height      int      `json:"height"`
	Milestone   int      `json:"milestone"`
	StakeCap    int64    `json:"stake_cap"`
	Payout      string   `json:"payout_multiplier"`
	Powerups    []string `json:"powerups"`
}

func (s *Server) handleListGames(w http.ResponseWriter, r *http.Request) {
	games := s.arcade.Catalog().List()
	out := make([]gameResponse, 0, len(games))
	for _, g := range games {
		gr := gameResponse{
			ID:          g.ID,
			Title:       g.Title,
			Description: g.Description,
			Height:      g.Rules.Height,
			Milestone:   g.Rules.Milestone,
			StakeCap:    g.Economy.Betting.PresetCap,
			Payout:      g.Economy.Betting.PayoutMultiplier.String(),
		}
		for _, k := range ledger.Kinds {
			if g.Economy.Supports(k) {
				gr.Powerups = append(gr.Powerups, string(k))
			}
		}
		out = append(out, gr)
	}
	writeJSON(w, http.StatusOK, out)
}

type accountResponse struct {
	UserID     string           `json:"user_id"`
	Rubies     int64            `json:"rubies"`
	HighScores map[string]int64 `json:"high_scores"`
	Powerups   map[string]int64 `json:"powerups"`
	Version    int64            `json:"version"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	snap, err := s.arcade.Account(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := accountResponse{
		UserID:     snap.UserID,
		Rubies:     snap.Rubies,
		HighScores: snap.HighScores,
		Powerups:   make(map[string]int64, len(snap.Powerups)),
		Version:    snap.Version,
	}
	for k, v := range snap.Powerups {
		resp.Powerups[string(k)] = v
	}
	writeJSON(w, http.StatusOK, resp)
}

type historyResponse struct {
	Type        string    `json:"type"`
	Kind        string    `json:"kind,omitempty"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit должен быть положительным числом"})
			return
		}
		limit = n
	}
	entries, err := s.arcade.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			Type:        e.Type,
			Kind:        string(e.Kind),
			Amount:      e.Amount,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInvalidUser):
		status = http.StatusBadRequest
	case errors.Is(err, arcade.ErrHistoryUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, ledger.ErrTransactionAborted):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.WithError(err).Warn("Ошибка HTTP API")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Ответ не отправлен")
	}
}
