package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// InitDataHeader заголовок, в котором мини-приложение передаёт initData.
const InitDataHeader = "X-Telegram-Init-Data"

var (
	// ErrInitDataMissing initData не передан.
	ErrInitDataMissing = errors.New("init_data отсутствует")
	// ErrInitDataInvalid подпись не сошлась или данные испорчены.
	ErrInitDataInvalid = errors.New("подпись недействительна")
	// ErrInitDataExpired auth_date старше допустимого.
	ErrInitDataExpired = errors.New("init_data устарел")
)

// WebAppUser пользователь из поля user.
type WebAppUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type userKey struct{}

// UserFromContext возвращает пользователя, проверенного WebAppAuthMiddleware.
func UserFromContext(ctx context.Context) (WebAppUser, bool) {
	u, ok := ctx.Value(userKey{}).(WebAppUser)
	return u, ok
}

// WebAppAuthMiddleware проверяет initData по токену бота. maxAge=0 отключает проверку давности.
func WebAppAuthMiddleware(botToken string, maxAge time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			initData := r.Header.Get(InitDataHeader)
			if initData == "" {
				initData = r.URL.Query().Get("init_data")
			}
			if initData == "" {
				WriteError(w, http.StatusUnauthorized, ErrInitDataMissing)
				return
			}
			user, err := ValidateInitData(initData, botToken, maxAge, time.Now())
			if err != nil {
				WriteError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

// ValidateInitData проверяет подпись initData: secret = HMAC_SHA256("WebAppData", token),
// hash = HMAC_SHA256(secret, data_check_string).
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (WebAppUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return WebAppUser{}, ErrInitDataInvalid
	}
	got, err := hex.DecodeString(values.Get("hash"))
	if err != nil || len(got) == 0 {
		return WebAppUser{}, ErrInitDataInvalid
	}
	if !hmac.Equal(got, SignInitData(values, botToken)) {
		return WebAppUser{}, ErrInitDataInvalid
	}
	if maxAge > 0 {
		ts, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil || now.Sub(time.Unix(ts, 0)) > maxAge {
			return WebAppUser{}, ErrInitDataExpired
		}
	}
	var user WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID == 0 {
		return WebAppUser{}, ErrInitDataInvalid
	}
	return user, nil
}

// SignInitData считает подпись набора полей; поле hash не участвует.
func SignInitData(values url.Values, botToken string) []byte {
	pairs := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	secret := hmacSHA256([]byte("WebAppData"), []byte(botToken))
	return hmacSHA256(secret, []byte(strings.Join(pairs, "\n")))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// RequestID возвращает request ID из контекста chi.
func RequestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

// ErrorResponse описывает ошибку.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError отправляет JSON с ошибкой.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, ErrorResponse{Error: err.Error()})
}

// WriteJSON отправляет тело в JSON.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
