package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/mmeshcher/loyalty-points/internal/model"
)

// GuardState описывает состояние проверки доступа к маршруту.
type GuardState int

const (
	// GuardLoading: сессия ещё не разобрана.
	GuardLoading GuardState = iota
	// GuardUnauthenticated: сессии нет или пользователь неизвестен.
	GuardUnauthenticated
	// GuardWrongRole: роль пользователя не совпадает с требуемой.
	GuardWrongRole
	// GuardAllowed: доступ разрешён.
	GuardAllowed
)

func (s GuardState) String() string {
	switch s {
	case GuardLoading:
		return "loading"
	case GuardUnauthenticated:
		return "unauthenticated"
	case GuardWrongRole:
		return "wrong-role"
	case GuardAllowed:
		return "allowed"
	default:
		return "unknown"
	}
}

// Evaluate вычисляет состояние доступа. Пустая required допускает любую роль.
func Evaluate(identity model.Identity, authenticated bool, required model.Role) GuardState {
	if !authenticated {
		return GuardUnauthenticated
	}
	if required != "" && identity.Role != required {
		return GuardWrongRole
	}
	return GuardAllowed
}

type guardConfig struct {
	loginPath string
	fallback  http.Handler
}

// GuardOption настраивает RequireRole.
type GuardOption func(*guardConfig)

// WithLoginRedirect перенаправляет неаутентифицированных пользователей на loginPath
// вместо ответа 401. Используется для страниц.
func WithLoginRedirect(loginPath string) GuardOption {
	return func(c *guardConfig) {
		c.loginPath = loginPath
	}
}

// WithFallback задаёт обработчик для пользователя с неподходящей ролью.
func WithFallback(h http.Handler) GuardOption {
	return func(c *guardConfig) {
		c.fallback = h
	}
}

// RequireRole пропускает запрос, только если в контексте есть identity с ролью required.
func RequireRole(required model.Role, opts ...GuardOption) func(http.Handler) http.Handler {
	cfg := guardConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := GetIdentityFromContext(r.Context())

			switch Evaluate(identity, ok, required) {
			case GuardAllowed:
				next.ServeHTTP(w, r)
			case GuardWrongRole:
				if cfg.fallback != nil {
					cfg.fallback.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusForbidden, "access denied")
			default:
				if cfg.loginPath != "" {
					http.Redirect(w, r, cfg.loginPath, http.StatusSeeOther)
					return
				}
				writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
			}
		})
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
