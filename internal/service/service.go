// Package service реализует бизнес-логику сервиса лояльности.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-points/internal/metrics"
	"github.com/mmeshcher/loyalty-points/internal/model"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
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

// Options содержит настройки входа по ссылке и фоновых задач.
type Options struct {
	LoginLinkBaseURL     string
	LoginCodeTTL         time.Duration
	HousekeepingInterval time.Duration
}

const (
	defaultLoginCodeTTL         = 10 * time.Minute
	defaultHousekeepingInterval = time.Hour
)

// Service содержит бизнес-логику сервиса лояльности.
type Service struct {
	repo    Repository
	logger  *zap.Logger
	metrics *metrics.Metrics
	sender  LinkSender
	opts    Options
	now     func() time.Time
}

// NewService создаёт сервис. Пустые logger и sender заменяются значениями по умолчанию.
func NewService(repo Repository, logger *zap.Logger, m *metrics.Metrics, sender LinkSender, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = NewLogLinkSender(logger)
	}
	if opts.LoginCodeTTL <= 0 {
		opts.LoginCodeTTL = defaultLoginCodeTTL
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = defaultHousekeepingInterval
	}

	return &Service{
		repo:    repo,
		logger:  logger,
		metrics: m,
		sender:  sender,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
