package handler

import (
	"net/http"

	"github.com/mmeshcher/loyalty-points/internal/middleware"
	"github.com/mmeshcher/loyalty-points/internal/model"
)

type updatePhoneRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

func currentIdentity(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	identity, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}
	return identity, ok
}

// OwnClient возвращает карточку текущего клиента.
func (h *Handler) OwnClient(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	c, err := h.service.OwnClient(r.Context(), identity)
	if err != nil {
		h.handleError(w, r, err, "get own client error")
		return
	}

	writeJSON(w, http.StatusOK, toClientView(c))
}

// UpdateOwnPhone изменяет номер телефона текущего клиента.
func (h *Handler) UpdateOwnPhone(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	var req updatePhoneRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.UpdateOwnPhone(r.Context(), identity, req.PhoneNumber)
	if err != nil {
		h.handleError(w, r, err, "update own phone error")
		return
	}

	writeJSON(w, http.StatusOK, toClientView(c))
}

// OwnAdjustments возвращает историю корректировок текущего клиента.
func (h *Handler) OwnAdjustments(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	items, err := h.service.OwnAdjustments(r.Context(), identity)
	if err != nil {
		h.handleError(w, r, err, "get own adjustments error")
		return
	}

	writeJSON(w, http.StatusOK, toAdjustmentViews(items))
}

// OwnSpending возвращает историю покупок текущего клиента.
func (h *Handler) OwnSpending(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}

	items, err := h.service.OwnSpending(r.Context(), identity)
	if err != nil {
		h.handleError(w, r, err, "get own spending error")
		return
	}

	writeJSON(w, http.StatusOK, toSpendingViews(items))
}
