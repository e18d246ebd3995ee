package service

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/repository"
	"github.com/mmeshcher/loyalty-points/internal/validation"
)

// NegativeBalanceWarning сообщается, если после корректировки баланс стал отрицательным.
const NegativeBalanceWarning = "points balance is negative"

// AdjustmentResult содержит результат корректировки баллов.
type AdjustmentResult struct {
	Client  *model.Client
	Warning string
}

// AdjustmentPreview содержит ожидаемый результат корректировки до её применения.
type AdjustmentPreview struct {
	NewPoints int64 `json:"newPoints"`
	Negative  bool  `json:"negative"`
}

// SpendingPreview содержит ожидаемый результат записи покупки до её применения.
type SpendingPreview struct {
	PointsEarned  int64   `json:"pointsEarned"`
	NewPoints     int64   `json:"newPoints"`
	NewTotalSpent float64 `json:"newTotalSpent"`
}

// ListClients возвращает клиентов по имени; search фильтрует по части имени или телефона.
func (s *Service) ListClients(ctx context.Context, search string) ([]model.Client, error) {
	return s.repo.ListClients(ctx, strings.TrimSpace(search))
}

// GetClient возвращает клиента по идентификатору.
func (s *Service) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	return s.repo.GetClient(ctx, id)
}

// CreateClient проверяет поля и создаёт клиента.
func (s *Service) CreateClient(ctx context.Context, nc model.NewClient) (*model.Client, error) {
	nc.Name = strings.TrimSpace(nc.Name)
	nc.PhoneNumber = strings.TrimSpace(nc.PhoneNumber)

	var v validation.Checker
	v.Required("name", nc.Name)
	v.Required("phoneNumber", nc.PhoneNumber)
	v.NonNegative("totalSpent", nc.TotalSpentCents)
	v.InRange("points", nc.Points, -model.MaxBalance, model.MaxBalance)
	v.InRange("totalSpent", nc.TotalSpentCents, 0, model.MaxBalance)
	if err := v.Err(); err != nil {
		return nil, err
	}

	return s.repo.CreateClient(ctx, nc)
}

// UpdateClient применяет частичное обновление клиента.
func (s *Service) UpdateClient(ctx context.Context, id uuid.UUID, upd model.ClientUpdate) (*model.Client, error) {
	var v validation.Checker
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		v.Required("name", name)
		upd.Name = &name
	}
	if upd.PhoneNumber != nil {
		phone := strings.TrimSpace(*upd.PhoneNumber)
		v.Required("phoneNumber", phone)
		upd.PhoneNumber = &phone
	}
	if upd.Points != nil {
		v.InRange("points", *upd.Points, -model.MaxBalance, model.MaxBalance)
	}
	if upd.TotalSpentCents != nil {
		v.NonNegative("totalSpent", *upd.TotalSpentCents)
		v.InRange("totalSpent", *upd.TotalSpentCents, 0, model.MaxBalance)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	return s.repo.UpdateClient(ctx, id, upd)
}

// DeleteClient удаляет клиента. Удаление отсутствующего клиента не считается ошибкой.
func (s *Service) DeleteClient(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteClient(ctx, id)
}

// AdjustPoints изменяет баланс баллов на delta. Отрицательный итог не блокирует операцию.
func (s *Service) AdjustPoints(ctx context.Context, id uuid.UUID, delta int64, reason string) (*AdjustmentResult, error) {
	if delta == 0 {
		return nil, fieldError("points", "must not be zero")
	}

	cur, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if !withinBalance(cur.Points, delta) {
		return nil, fieldError("points", "balance would be out of range")
	}

	c, err := s.repo.AdjustPoints(ctx, id, delta, strings.TrimSpace(reason))
	if err != nil {
		return nil, err
	}
	s.metrics.PointsAdjusted(delta)

	res := &AdjustmentResult{Client: c}
	if c.Points < 0 {
		res.Warning = NegativeBalanceWarning
	}
	return res, nil
}

// AddSpending записывает покупку на сумму amount и начисляет балл за каждую целую единицу.
func (s *Service) AddSpending(ctx context.Context, id uuid.UUID, amount float64, description string) (*model.Client, error) {
	cents, err := spendingCents(amount)
	if err != nil {
		return nil, err
	}

	cur, err := s.repo.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if !withinBalance(cur.TotalSpentCents, cents) || !withinBalance(cur.Points, cents/100) {
		return nil, fieldError("amount", "total would be out of range")
	}

	c, err := s.repo.AddSpending(ctx, id, cents, strings.TrimSpace(description))
	if err != nil {
		return nil, err
	}
	s.metrics.SpendingRecorded(cents)

	return c, nil
}

// withinBalance сообщает, остаётся ли cur+delta в пределах MaxBalance.
// Оба слагаемых ограничены, поэтому сумма не переполняет int64.
func withinBalance(cur, delta int64) bool {
	if delta > model.MaxBalance || delta < -model.MaxBalance ||
		cur > model.MaxBalance || cur < -model.MaxBalance {
		return false
	}
	next := cur + delta
	return next >= -model.MaxBalance && next <= model.MaxBalance
}

func spendingCents(amount float64) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, fieldError("amount", "must be positive")
	}
	if amount > model.CentsToAmount(model.MaxBalance) {
		return 0, fieldError("amount", "is out of range")
	}
	cents := model.AmountToCents(amount)
	if cents < 1 {
		return 0, fieldError("amount", "must be at least 0.01")
	}
	return cents, nil
}

// ListAdjustments возвращает историю корректировок клиента.
func (s *Service) ListAdjustments(ctx context.Context, clientID uuid.UUID) ([]model.PointsAdjustment, error) {
	return s.repo.ListAdjustments(ctx, clientID)
}

// ListSpending возвращает историю покупок клиента.
func (s *Service) ListSpending(ctx context.Context, clientID uuid.UUID) ([]model.SpendingRecord, error) {
	return s.repo.ListSpending(ctx, clientID)
}

// PreviewAdjustment рассчитывает баланс после корректировки без изменения данных.
func PreviewAdjustment(c model.Client, delta int64) AdjustmentPreview {
	newPoints := c.Points + delta
	return AdjustmentPreview{NewPoints: newPoints, Negative: newPoints < 0}
}

// PreviewSpending рассчитывает начисление за покупку без изменения данных.
// Некорректная сумма даёт нулевое начисление.
func PreviewSpending(c model.Client, amount float64) SpendingPreview {
	cents, err := spendingCents(amount)
	if err != nil {
		cents = 0
	}
	earned := cents / 100
	return SpendingPreview{
		PointsEarned:  earned,
		NewPoints:     c.Points + earned,
		NewTotalSpent: model.CentsToAmount(c.TotalSpentCents + cents),
	}
}

// OwnClient возвращает карточку клиента, связанную с identity.
func (s *Service) OwnClient(ctx context.Context, identity model.Identity) (*model.Client, error) {
	if identity.ClientID == nil {
		return nil, ErrProfileNotFound
	}

	c, err := s.repo.GetClient(ctx, *identity.ClientID)
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdateOwnPhone изменяет номер телефона в собственной карточке клиента.
func (s *Service) UpdateOwnPhone(ctx context.Context, identity model.Identity, phone string) (*model.Client, error) {
	if identity.ClientID == nil {
		return nil, ErrProfileNotFound
	}

	c, err := s.UpdateClient(ctx, *identity.ClientID, model.ClientUpdate{PhoneNumber: &phone})
	if err != nil {
		if errors.Is(err, repository.ErrClientNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return c, nil
}

// OwnAdjustments возвращает историю корректировок собственной карточки.
func (s *Service) OwnAdjustments(ctx context.Context, identity model.Identity) ([]model.PointsAdjustment, error) {
	if identity.ClientID == nil {
		return nil, ErrProfileNotFound
	}
	return s.repo.ListAdjustments(ctx, *identity.ClientID)
}

// OwnSpending возвращает историю покупок собственной карточки.
func (s *Service) OwnSpending(ctx context.Context, identity model.Identity) ([]model.SpendingRecord, error) {
	if identity.ClientID == nil {
		return nil, ErrProfileNotFound
	}
	return s.repo.ListSpending(ctx, *identity.ClientID)
}
