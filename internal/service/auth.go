package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/repository"
	"github.com/mmeshcher/loyalty-points/internal/validation"
)

const (
	loginMethodPassword = "password"
	loginMethodLink     = "link"

	otpIssuer = "loyalty-points"

	// MaxLoginAttempts ограничивает число неверных кодов для одного запроса на вход.
	MaxLoginAttempts = 5
)

// Секрет выдаётся на один запрос входа, поэтому счётчик HOTP всегда нулевой.
var otpOpts = hotp.ValidateOpts{
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Login проверяет email и пароль и возвращает identity пользователя.
func (s *Service) Login(ctx context.Context, email, password string) (model.Identity, error) {
	identity, err := s.login(ctx, email, password)
	s.metrics.Login(loginMethodPassword, err == nil)
	return identity, err
}

func (s *Service) login(ctx context.Context, email, password string) (model.Identity, error) {
	email, ok := validation.NormalizeEmail(email)
	if !ok || password == "" {
		return model.Identity{}, ErrInvalidCredentials
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.Identity{}, ErrInvalidCredentials
		}
		return model.Identity{}, err
	}

	if len(u.PasswordHash) == 0 {
		return model.Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return model.Identity{}, ErrInvalidCredentials
	}

	identity, ok := s.Resolve(ctx, u.ID)
	if !ok {
		return model.Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}

// StartLinkLogin создаёт запрос на вход по ссылке и отправляет ссылку с кодом.
// Пользователь с таким email создаётся, если его ещё нет.
func (s *Service) StartLinkLogin(ctx context.Context, email string) (uuid.UUID, error) {
	email, ok := validation.NormalizeEmail(email)
	if !ok {
		return uuid.Nil, fieldError("email", "must be a valid email address")
	}

	if err := s.ensureUser(ctx, email); err != nil {
		return uuid.Nil, err
	}

	key, err := hotp.Generate(hotp.GenerateOpts{
		Issuer:      otpIssuer,
		AccountName: email,
		Digits:      otpOpts.Digits,
		Algorithm:   otpOpts.Algorithm,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate otp secret: %w", err)
	}

	code, err := hotp.GenerateCodeCustom(key.Secret(), 0, otpOpts)
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate otp code: %w", err)
	}

	now := s.now()
	ch := model.LoginChallenge{
		ID:        uuid.New(),
		Email:     email,
		Secret:    key.Secret(),
		ExpiresAt: now.Add(s.opts.LoginCodeTTL),
		CreatedAt: now,
	}
	if err := s.repo.CreateLoginChallenge(ctx, ch); err != nil {
		return uuid.Nil, err
	}

	link, err := s.loginLink(ch.ID, code)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.sender.SendLoginLink(ctx, email, link, code); err != nil {
		return uuid.Nil, fmt.Errorf("send login link: %w", err)
	}

	return ch.ID, nil
}

func (s *Service) ensureUser(ctx context.Context, email string) error {
	_, err := s.repo.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}

	_, err = s.repo.CreateUser(ctx, email, nil)
	if err != nil && !errors.Is(err, repository.ErrUserExists) {
		return err
	}
	if err == nil {
		s.logger.Info("user created by login link", zap.String("email", email))
	}
	return nil
}

func (s *Service) loginLink(challengeID uuid.UUID, code string) (string, error) {
	u, err := url.Parse(s.opts.LoginLinkBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse login link base url: %w", err)
	}

	q := u.Query()
	q.Set("challenge", challengeID.String())
	q.Set("code", code)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// VerifyLinkLogin погашает запрос на вход и возвращает identity пользователя.
// Каждый код действует один раз и только до истечения срока.
func (s *Service) VerifyLinkLogin(ctx context.Context, challengeID uuid.UUID, code string) (model.Identity, error) {
	identity, err := s.verifyLinkLogin(ctx, challengeID, code)
	s.metrics.Login(loginMethodLink, err == nil)
	return identity, err
}

func (s *Service) verifyLinkLogin(ctx context.Context, challengeID uuid.UUID, code string) (model.Identity, error) {
	ch, err := s.repo.GetLoginChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return model.Identity{}, ErrInvalidLoginCode
		}
		return model.Identity{}, err
	}

	now := s.now()
	if ch.ConsumedAt != nil || !now.Before(ch.ExpiresAt) || ch.Attempts >= MaxLoginAttempts {
		return model.Identity{}, ErrInvalidLoginCode
	}

	valid, err := hotp.ValidateCustom(code, 0, ch.Secret, otpOpts)
	if err != nil || !valid {
		attempts, ferr := s.repo.FailLoginAttempt(ctx, ch.ID, MaxLoginAttempts, now)
		if ferr != nil {
			return model.Identity{}, ferr
		}
		if attempts >= MaxLoginAttempts {
			s.logger.Warn("login challenge locked after failed attempts",
				zap.String("challenge_id", ch.ID.String()),
				zap.Int("attempts", attempts),
			)
		}
		return model.Identity{}, ErrInvalidLoginCode
	}

	consumed, err := s.repo.ConsumeLoginChallenge(ctx, ch.ID, now)
	if err != nil {
		return model.Identity{}, err
	}
	if !consumed {
		return model.Identity{}, ErrInvalidLoginCode
	}

	if err := s.ensureUser(ctx, ch.Email); err != nil {
		return model.Identity{}, err
	}
	u, err := s.repo.GetUserByEmail(ctx, ch.Email)
	if err != nil {
		return model.Identity{}, err
	}

	identity, ok := s.Resolve(ctx, u.ID)
	if !ok {
		return model.Identity{}, ErrInvalidLoginCode
	}
	return identity, nil
}

// BootstrapAdmin создаёт или обновляет администратора с паролем. Пустой email пропускается.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}

	email, ok := validation.NormalizeEmail(email)
	if !ok {
		return fieldError("email", "must be a valid email address")
	}
	if password == "" {
		return fieldError("password", "is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		u, err = s.repo.CreateUser(ctx, email, hash)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if err := s.repo.SetPasswordHash(ctx, u.ID, hash); err != nil {
			return err
		}
	}

	if err := s.repo.UpsertProfile(ctx, model.Profile{UserID: u.ID, Role: model.RoleAdmin}); err != nil {
		return err
	}

	s.logger.Info("admin account ready", zap.String("email", email))
	return nil
}
