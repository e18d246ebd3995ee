package handler

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-points/internal/middleware"
	"github.com/mmeshcher/loyalty-points/internal/model"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token    string       `json:"token"`
	Identity identityView `json:"identity"`
	Redirect string       `json:"redirect"`
}

type linkRequest struct {
	Email string `json:"email"`
}

type linkResponse struct {
	ChallengeID string `json:"challengeId"`
}

type verifyLinkRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// Login выполняет вход по email и паролю и устанавливает cookie сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.handleError(w, r, err, "login error")
		return
	}

	h.startSession(w, r, identity)
}

// StartLink создаёт запрос на вход по ссылке. Пользователь создаётся при первом входе.
func (h *Handler) StartLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	challengeID, err := h.service.StartLinkLogin(r.Context(), req.Email)
	if err != nil {
		h.handleError(w, r, err, "start link login error")
		return
	}

	writeJSON(w, http.StatusAccepted, linkResponse{ChallengeID: challengeID.String()})
}

// VerifyLink погашает код из ссылки и устанавливает cookie сессии.
func (h *Handler) VerifyLink(w http.ResponseWriter, r *http.Request) {
	var req verifyLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired login code")
		return
	}

	identity, err := h.service.VerifyLinkLogin(r.Context(), challengeID, req.Code)
	if err != nil {
		h.handleError(w, r, err, "verify link login error")
		return
	}

	h.startSession(w, r, identity)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, identity model.Identity) {
	token, err := h.authMiddleware.IssueSession(w, identity)
	if err != nil {
		h.handleError(w, r, err, "issue session error")
		return
	}

	h.logger.Info("user signed in",
		zap.String("userID", identity.UserID.String()),
		zap.String("role", string(identity.Role)),
	)

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:    token,
		Identity: toIdentityView(identity),
		Redirect: homeFor(identity.Role),
	})
}

// Logout удаляет cookie сессии.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authMiddleware.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me возвращает identity текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		return
	}

	writeJSON(w, http.StatusOK, toIdentityView(identity))
}
