package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/service"
)

type createClientRequest struct {
	Name        string   `json:"name"`
	PhoneNumber string   `json:"phoneNumber"`
	Points      int64    `json:"points"`
	TotalSpent  *float64 `json:"totalSpent"`
}

type updateClientRequest struct {
	Name        *string  `json:"name"`
	PhoneNumber *string  `json:"phoneNumber"`
	Points      *int64   `json:"points"`
	TotalSpent  *float64 `json:"totalSpent"`
}

type adjustPointsRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

type adjustPointsResponse struct {
	Client  clientView `json:"client"`
	Warning string     `json:"warning,omitempty"`
}

type addSpendingRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type linkProfileRequest struct {
	Role     string  `json:"role"`
	ClientID *string `json:"clientId"`
}

// ListClients возвращает список клиентов с необязательным фильтром search.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.service.ListClients(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		h.handleError(w, r, err, "list clients error")
		return
	}

	writeJSON(w, http.StatusOK, toClientViews(clients))
}

// GetClient возвращает клиента по идентификатору.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	c, err := h.service.GetClient(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "get client error")
		return
	}

	writeJSON(w, http.StatusOK, toClientView(c))
}

// CreateClient создаёт клиента.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	nc := model.NewClient{
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Points:      req.Points,
	}
	if req.TotalSpent != nil {
		nc.TotalSpentCents = model.AmountToCents(*req.TotalSpent)
	}

	c, err := h.service.CreateClient(r.Context(), nc)
	if err != nil {
		h.handleError(w, r, err, "create client error")
		return
	}

	h.logger.Info("client created", zap.String("clientID", c.ID.String()))
	writeJSON(w, http.StatusCreated, toClientView(c))
}

// UpdateClient частично обновляет клиента.
func (h *Handler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req updateClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	upd := model.ClientUpdate{
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		Points:      req.Points,
	}
	if req.TotalSpent != nil {
		cents := model.AmountToCents(*req.TotalSpent)
		upd.TotalSpentCents = &cents
	}

	c, err := h.service.UpdateClient(r.Context(), id, upd)
	if err != nil {
		h.handleError(w, r, err, "update client error")
		return
	}

	writeJSON(w, http.StatusOK, toClientView(c))
}

// DeleteClient удаляет клиента. Ответ 204 возвращается и для отсутствующего клиента.
func (h *Handler) DeleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.service.DeleteClient(r.Context(), id); err != nil {
		h.handleError(w, r, err, "delete client error")
		return
	}

	h.logger.Info("client deleted", zap.String("clientID", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

// AdjustPoints изменяет баланс баллов клиента.
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req adjustPointsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.AdjustPoints(r.Context(), id, req.Points, req.Reason)
	if err != nil {
		h.handleError(w, r, err, "adjust points error")
		return
	}

	writeJSON(w, http.StatusOK, adjustPointsResponse{
		Client:  toClientView(res.Client),
		Warning: res.Warning,
	})
}

// AddSpending записывает покупку клиента.
func (h *Handler) AddSpending(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req addSpendingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.AddSpending(r.Context(), id, req.Amount, req.Description)
	if err != nil {
		h.handleError(w, r, err, "add spending error")
		return
	}

	writeJSON(w, http.StatusOK, toClientView(c))
}

// PreviewPoints показывает баланс после корректировки без её применения.
func (h *Handler) PreviewPoints(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req adjustPointsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.GetClient(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "preview points error")
		return
	}

	writeJSON(w, http.StatusOK, service.PreviewAdjustment(*c, req.Points))
}

// PreviewSpending показывает начисление за покупку без её записи.
func (h *Handler) PreviewSpending(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	var req addSpendingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.service.GetClient(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "preview spending error")
		return
	}

	writeJSON(w, http.StatusOK, service.PreviewSpending(*c, req.Amount))
}

// ListAdjustments возвращает историю корректировок клиента.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	items, err := h.service.ListAdjustments(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "list adjustments error")
		return
	}

	writeJSON(w, http.StatusOK, toAdjustmentViews(items))
}

// ListSpending возвращает историю покупок клиента.
func (h *Handler) ListSpending(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	items, err := h.service.ListSpending(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, "list spending error")
		return
	}

	writeJSON(w, http.StatusOK, toSpendingViews(items))
}

// LinkProfile назначает пользователю роль и карточку клиента.
func (h *Handler) LinkProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var req linkProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var clientID *uuid.UUID
	if req.ClientID != nil && *req.ClientID != "" {
		id, err := uuid.Parse(*req.ClientID)
		if err != nil {
			writeError(w, http.StatusNotFound, "client not found")
			return
		}
		clientID = &id
	}

	if err := h.service.LinkProfile(r.Context(), userID, model.Role(req.Role), clientID); err != nil {
		h.handleError(w, r, err, "link profile error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
