// Package model содержит доменные сущности сервиса лояльности.
package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Valid сообщает, является ли роль одной из известных.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleClient
}

// Client представляет клиента программы лояльности.
type Client struct {
	ID              uuid.UUID
	Name            string
	PhoneNumber     string
	Points          int64
	TotalSpentCents int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TotalSpent возвращает сумму покупок клиента в денежных единицах.
func (c Client) TotalSpent() float64 {
	return CentsToAmount(c.TotalSpentCents)
}

// NewClient содержит поля, задаваемые администратором при создании клиента.
type NewClient struct {
	Name            string
	PhoneNumber     string
	Points          int64
	TotalSpentCents int64
}

// ClientUpdate описывает частичное обновление клиента; nil-поля не изменяются.
type ClientUpdate struct {
	Name            *string
	PhoneNumber     *string
	Points          *int64
	TotalSpentCents *int64
}

// User представляет субъект аутентификации.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Profile связывает пользователя с ролью и, для клиентов, с карточкой клиента.
type Profile struct {
	UserID   uuid.UUID
	Role     Role
	ClientID *uuid.UUID
}

// Identity описывает пользователя текущей сессии и доступную ему роль.
type Identity struct {
	UserID   uuid.UUID
	Email    string
	Role     Role
	ClientID *uuid.UUID
}

// PointsAdjustment описывает запись журнала ручной корректировки баллов.
type PointsAdjustment struct {
	ID        int64
	ClientID  uuid.UUID
	Points    int64
	Reason    string
	CreatedAt time.Time
}

// SpendingRecord описывает запись журнала покупок клиента.
type SpendingRecord struct {
	ID          int64
	ClientID    uuid.UUID
	AmountCents int64
	Description string
	CreatedAt   time.Time
}

// Amount возвращает сумму покупки в денежных единицах.
func (s SpendingRecord) Amount() float64 {
	return CentsToAmount(s.AmountCents)
}

// LoginChallenge описывает запрос на вход по одноразовой ссылке.
type LoginChallenge struct {
	ID         uuid.UUID
	Email      string
	Secret     string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Attempts   int
	CreatedAt  time.Time
}

// MaxBalance ограничивает модуль баланса баллов и суммы покупок в копейках.
const MaxBalance int64 = 1_000_000_000_000_000

// CentsToAmount переводит копейки в денежные единицы.
func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

// AmountToCents переводит денежную сумму в копейки с округлением до ближайшей копейки.
func AmountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
