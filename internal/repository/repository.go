// Package repository содержит реализации хранилища сервиса лояльности для PostgreSQL и SQLite.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-points/internal/model"
)

var (
	// ErrClientNotFound возвращается, если клиент с указанным идентификатором не найден.
	ErrClientNotFound = errors.New("client not found")
	// ErrUserExists возвращается при попытке создать пользователя с уже существующим email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProfileNotFound возвращается, если у пользователя нет профиля.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrChallengeNotFound возвращается, если запрос на вход не найден.
	ErrChallengeNotFound = errors.New("login challenge not found")
)

// Store объединяет операции хранилища, общие для всех драйверов.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	ListClients(ctx context.Context, search string) ([]model.Client, error)
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
	CreateClient(ctx context.Context, c model.NewClient) (*model.Client, error)
	UpdateClient(ctx context.Context, id uuid.UUID, upd model.ClientUpdate) (*model.Client, error)
	DeleteClient(ctx context.Context, id uuid.UUID) error
	AdjustPoints(ctx context.Context, id uuid.UUID, delta int64, reason string) (*model.Client, error)
	AddSpending(ctx context.Context, id uuid.UUID, amountCents int64, description string) (*model.Client, error)
	ListAdjustments(ctx context.Context, clientID uuid.UUID) ([]model.PointsAdjustment, error)
	ListSpending(ctx context.Context, clientID uuid.UUID) ([]model.SpendingRecord, error)

	CreateUser(ctx context.Context, email string, passwordHash []byte) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash []byte) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p model.Profile) error

	CreateLoginChallenge(ctx context.Context, ch model.LoginChallenge) error
	GetLoginChallenge(ctx context.Context, id uuid.UUID) (*model.LoginChallenge, error)
	ConsumeLoginChallenge(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	FailLoginAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) (int, error)
	DeleteExpiredLoginChallenges(ctx context.Context, before time.Time) (int64, error)
}

const sqlitePrefix = "sqlite:"

// Open открывает хранилище по строке подключения: "sqlite:<путь>" выбирает SQLite,
// всё остальное передаётся драйверу PostgreSQL.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database URI is empty")
	}

	if strings.HasPrefix(dsn, sqlitePrefix) {
		path := strings.TrimPrefix(dsn, sqlitePrefix)
		if path == "" {
			return nil, fmt.Errorf("sqlite path is empty in %q", dsn)
		}
		return NewSQLiteRepository(path)
	}

	return NewPostgresRepository(dsn)
}

// rowScanner покрывает pgx.Row, pgx.Rows, *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const clientColumns = `id, name, phone_number, points, total_spent, created_at, updated_at`

func scanClient(row rowScanner) (*model.Client, error) {
	var c model.Client
	if err := row.Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Points, &c.TotalSpentCents, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func scanAdjustment(row rowScanner) (model.PointsAdjustment, error) {
	var a model.PointsAdjustment
	err := row.Scan(&a.ID, &a.ClientID, &a.Points, &a.Reason, &a.CreatedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, err
}

func scanSpending(row rowScanner) (model.SpendingRecord, error) {
	var s model.SpendingRecord
	err := row.Scan(&s.ID, &s.ClientID, &s.AmountCents, &s.Description, &s.CreatedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, err
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func scanChallenge(row rowScanner) (*model.LoginChallenge, error) {
	var ch model.LoginChallenge
	if err := row.Scan(&ch.ID, &ch.Email, &ch.Secret, &ch.ExpiresAt, &ch.ConsumedAt, &ch.Attempts, &ch.CreatedAt); err != nil {
		return nil, err
	}
	ch.ExpiresAt = ch.ExpiresAt.UTC()
	ch.CreatedAt = ch.CreatedAt.UTC()
	if ch.ConsumedAt != nil {
		t := ch.ConsumedAt.UTC()
		ch.ConsumedAt = &t
	}
	return &ch, nil
}

func now() time.Time {
	return time.Now().UTC()
}
