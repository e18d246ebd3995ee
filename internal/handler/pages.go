package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-points/internal/middleware"
	"github.com/mmeshcher/loyalty-points/internal/service"
)

type loginPage struct {
	Methods        []string      `json:"methods"`
	PasswordAction string        `json:"passwordAction"`
	LinkAction     string        `json:"linkAction"`
	VerifyAction   string        `json:"verifyAction"`
	Error          string        `json:"error,omitempty"`
	Identity       *identityView `json:"identity,omitempty"`
}

type adminPage struct {
	Search  string       `json:"search"`
	Total   int          `json:"total"`
	Clients []clientView `json:"clients"`
}

type clientPage struct {
	ProfileFound bool             `json:"profileFound"`
	Client       *clientView      `json:"client,omitempty"`
	Adjustments  []adjustmentView `json:"adjustments"`
	Spending     []spendingView   `json:"spending"`
}

// LoginPage описывает доступные способы входа.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	page := loginPage{
		Methods:        []string{"password", "link"},
		PasswordAction: "/api/auth/login",
		LinkAction:     "/api/auth/link",
		VerifyAction:   "/api/auth/link/verify",
		Error:          r.URL.Query().Get("error"),
	}
	if identity, ok := middleware.GetIdentityFromContext(r.Context()); ok {
		v := toIdentityView(identity)
		page.Identity = &v
	}

	writeJSON(w, http.StatusOK, page)
}

// VerifyLinkPage обрабатывает переход по ссылке из письма: погашает код,
// устанавливает cookie и перенаправляет на главную страницу.
func (h *Handler) VerifyLinkPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	challengeID, err := uuid.Parse(q.Get("challenge"))
	if err != nil {
		http.Redirect(w, r, "/login?error=invalid_link", http.StatusSeeOther)
		return
	}

	identity, err := h.service.VerifyLinkLogin(r.Context(), challengeID, q.Get("code"))
	if err != nil {
		if !errors.Is(err, service.ErrInvalidLoginCode) {
			h.handleError(w, r, err, "verify link page error")
			return
		}
		http.Redirect(w, r, "/login?error=invalid_link", http.StatusSeeOther)
		return
	}

	if _, err := h.authMiddleware.IssueSession(w, identity); err != nil {
		h.handleError(w, r, err, "issue session error")
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// AdminPage возвращает список клиентов для администратора.
func (h *Handler) AdminPage(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	clients, err := h.service.ListClients(r.Context(), search)
	if err != nil {
		h.handleError(w, r, err, "admin page error")
		return
	}

	writeJSON(w, http.StatusOK, adminPage{
		Search:  search,
		Total:   len(clients),
		Clients: toClientViews(clients),
	})
}

// ClientPage возвращает карточку клиента с историей. Отсутствие профиля
// отображается как profileFound=false.
func (h *Handler) ClientPage(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	page := clientPage{
		Adjustments: []adjustmentView{},
		Spending:    []spendingView{},
	}

	c, err := h.service.OwnClient(r.Context(), identity)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			writeJSON(w, http.StatusOK, page)
			return
		}
		h.handleError(w, r, err, "client page error")
		return
	}

	adjustments, err := h.service.OwnAdjustments(r.Context(), identity)
	if err != nil {
		h.handleError(w, r, err, "client page error")
		return
	}

	spending, err := h.service.OwnSpending(r.Context(), identity)
	if err != nil {
		h.handleError(w, r, err, "client page error")
		return
	}

	v := toClientView(c)
	page.ProfileFound = true
	page.Client = &v
	page.Adjustments = toAdjustmentViews(adjustments)
	page.Spending = toSpendingViews(spending)

	writeJSON(w, http.StatusOK, page)
}

// Root перенаправляет пользователя на страницу его роли или на страницу входа.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, homeFor(identity.Role), http.StatusSeeOther)
}

// CatchAll перенаправляет неизвестные страницы на главную; для API отвечает 404.
func (h *Handler) CatchAll(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api" || strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}
