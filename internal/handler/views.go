package handler

import (
	"time"

	"github.com/mmeshcher/loyalty-points/internal/model"
)

type clientView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PhoneNumber string  `json:"phoneNumber"`
	Points      int64   `json:"points"`
	TotalSpent  float64 `json:"totalSpent"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type adjustmentView struct {
	ID        int64  `json:"id"`
	ClientID  string `json:"clientId"`
	Points    int64  `json:"points"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type spendingView struct {
	ID          int64   `json:"id"`
	ClientID    string  `json:"clientId"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	CreatedAt   string  `json:"createdAt"`
}

type identityView struct {
	UserID   string  `json:"userId"`
	Email    string  `json:"email,omitempty"`
	Role     string  `json:"role"`
	ClientID *string `json:"clientId,omitempty"`
}

func toClientView(c *model.Client) clientView {
	return clientView{
		ID:          c.ID.String(),
		Name:        c.Name,
		PhoneNumber: c.PhoneNumber,
		Points:      c.Points,
		TotalSpent:  c.TotalSpent(),
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	}
}

func toClientViews(clients []model.Client) []clientView {
	res := make([]clientView, 0, len(clients))
	for i := range clients {
		res = append(res, toClientView(&clients[i]))
	}
	return res
}

func toAdjustmentViews(items []model.PointsAdjustment) []adjustmentView {
	res := make([]adjustmentView, 0, len(items))
	for _, a := range items {
		res = append(res, adjustmentView{
			ID:        a.ID,
			ClientID:  a.ClientID.String(),
			Points:    a.Points,
			Reason:    a.Reason,
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}
	return res
}

func toSpendingViews(items []model.SpendingRecord) []spendingView {
	res := make([]spendingView, 0, len(items))
	for _, s := range items {
		res = append(res, spendingView{
			ID:          s.ID,
			ClientID:    s.ClientID.String(),
			Amount:      s.Amount(),
			Description: s.Description,
			CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		})
	}
	return res
}

func toIdentityView(id model.Identity) identityView {
	v := identityView{
		UserID: id.UserID.String(),
		Email:  id.Email,
		Role:   string(id.Role),
	}
	if id.ClientID != nil {
		s := id.ClientID.String()
		v.ClientID = &s
	}
	return v
}

// homeFor возвращает страницу, на которую попадает пользователь с данной ролью.
func homeFor(role model.Role) string {
	if role == model.RoleAdmin {
		return "/admin"
	}
	return "/client"
}
