package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/repository"
)

// Resolve определяет роль и карточку клиента пользователя userID.
// ok=false означает, что пользователь неизвестен и сессию нужно считать недействительной.
// Пользователь без профиля, как и при ошибке чтения профиля, получает роль клиента без карточки.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID) (model.Identity, bool) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			s.logger.Warn("resolve identity: user lookup failed", zap.Error(err), zap.String("userID", userID.String()))
		}
		return model.Identity{}, false
	}

	identity := model.Identity{
		UserID: u.ID,
		Email:  u.Email,
		Role:   model.RoleClient,
	}

	p, err := s.repo.GetProfile(ctx, userID)
	switch {
	case err == nil:
		if p.Role.Valid() {
			identity.Role = p.Role
		}
		if identity.Role == model.RoleClient {
			identity.ClientID = p.ClientID
		}
	case errors.Is(err, repository.ErrProfileNotFound):
	default:
		s.logger.Warn("resolve identity: profile lookup failed, falling back to client role",
			zap.Error(err), zap.String("userID", userID.String()))
	}

	return identity, true
}

// LinkProfile назначает пользователю роль и, для клиента, карточку клиента.
func (s *Service) LinkProfile(ctx context.Context, userID uuid.UUID, role model.Role, clientID *uuid.UUID) error {
	if !role.Valid() {
		return fieldError("role", "must be admin or client")
	}
	if role == model.RoleAdmin && clientID != nil {
		return fieldError("clientId", "allowed only for client role")
	}

	return s.repo.UpsertProfile(ctx, model.Profile{UserID: userID, Role: role, ClientID: clientID})
}
