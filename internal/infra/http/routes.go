package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"

	"remont-lead-bot/internal/domain"
)

const (
	// SecretHeader заголовок с секретом вебхука Bot API.
	SecretHeader  = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateSize = 1 << 20
	healthTimeout = 3 * time.Second
)

// UpdateHandler принимает сырое обновление Bot API.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, raw []byte)
}

// Pinger проверка доступности хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProfileStore данные для личного кабинета.
type ProfileStore interface {
	GetUser(ctx context.Context, externalID int64) (domain.User, error)
	LastLead(ctx context.Context, userID int64) (domain.Lead, error)
}

// MountWebhook принимает обновления Bot API. Пустой secret отключает проверку заголовка.
func (s *Server) MountWebhook(path, secret string, handler UpdateHandler) {
	s.Router.Post(path, func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
			WriteError(w, http.StatusUnauthorized, errors.New("неверный секрет"))
			return
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err)
			return
		}
		// Ответ всегда 200: на другие коды Bot API повторяет доставку.
		handler.HandleUpdate(context.WithoutCancel(r.Context()), raw)
		w.WriteHeader(http.StatusOK)
	})
}

// MountHealth отдаёт /healthz: 200 при доступном хранилище, 503 иначе.
func (s *Server) MountHealth(store Pinger) {
	s.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("http: хранилище недоступно")
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// ProfileResponse ответ личного кабинета.
type ProfileResponse struct {
	UserID   int64        `json:"user_id"`
	Name     string       `json:"name"`
	Consent  bool         `json:"consent"`
	Mode     string       `json:"mode"`
	Step     int          `json:"step"`
	LastLead *LeadSummary `json:"last_lead,omitempty"`
}

// LeadSummary краткие сведения о заявке.
type LeadSummary struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MountWebApp подключает API мини-приложения под /api/webapp.
func (s *Server) MountWebApp(botToken string, maxAge time.Duration, store ProfileStore) {
	s.Router.Route("/api/webapp", func(r chi.Router) {
		r.Use(WebAppAuthMiddleware(botToken, maxAge))
		r.Get("/profile", s.profile(store))
	})
}

func (s *Server) profile(store ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tgUser, ok := UserFromContext(r.Context())
		if !ok {
			WriteError(w, http.StatusUnauthorized, ErrInitDataMissing)
			return
		}
		user, err := store.GetUser(r.Context(), tgUser.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			WriteError(w, http.StatusNotFound, errors.New("пользователь не найден"))
			return
		case err != nil:
			s.log.Error().Err(err).Int64("user", tgUser.ID).Msg("http: профиль не загружен")
			WriteError(w, http.StatusServiceUnavailable, errors.New("хранилище недоступно"))
			return
		}
		resp := ProfileResponse{UserID: user.ExternalID, Name: user.DisplayName, Consent: user.Consent, Mode: "none"}
		if user.Mode != nil {
			resp.Mode, resp.Step = user.Mode.Encode()
		}
		lead, err := store.LastLead(r.Context(), user.ID)
		switch {
		case err == nil:
			resp.LastLead = &LeadSummary{ID: lead.ID, Status: string(lead.Status), CreatedAt: lead.CreatedAt}
		case !errors.Is(err, domain.ErrNotFound):
			s.log.Error().Err(err).Int64("user", user.ID).Msg("http: последняя заявка не загружена")
			WriteError(w, http.StatusServiceUnavailable, errors.New("хранилище недоступно"))
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}
