package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loyalty-points/internal/model"
)

// runStoreTests проверяет контракт Store на любом драйвере.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("clients are listed by name", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"Viktor", "Anna", "Boris"} {
			_, err := s.CreateClient(ctx, model.NewClient{Name: name, PhoneNumber: "555"})
			require.NoError(t, err)
		}

		list, err := s.ListClients(ctx, "")
		require.NoError(t, err)
		require.Len(t, list, 3)
		names := []string{list[0].Name, list[1].Name, list[2].Name}
		assert.Equal(t, []string{"Anna", "Boris", "Viktor"}, names)
	})

	t.Run("search by name or phone", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateClient(ctx, model.NewClient{Name: "Anna Petrova", PhoneNumber: "+7 900 111"})
		require.NoError(t, err)
		_, err = s.CreateClient(ctx, model.NewClient{Name: "Boris", PhoneNumber: "+7 900 222"})
		require.NoError(t, err)

		byName, err := s.ListClients(ctx, "PETR")
		require.NoError(t, err)
		require.Len(t, byName, 1)
		assert.Equal(t, "Anna Petrova", byName[0].Name)

		byPhone, err := s.ListClients(ctx, "222")
		require.NoError(t, err)
		require.Len(t, byPhone, 1)
		assert.Equal(t, "Boris", byPhone[0].Name)

		none, err := s.ListClients(ctx, "zzz")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("create get update delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c, err := s.CreateClient(ctx, model.NewClient{Name: "Anna", PhoneNumber: "555", Points: 3, TotalSpentCents: 1250})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, c.ID)
		assert.False(t, c.CreatedAt.IsZero())

		got, err := s.GetClient(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		assert.Equal(t, int64(1250), got.TotalSpentCents)

		phone := "777"
		points := int64(-4)
		upd, err := s.UpdateClient(ctx, c.ID, model.ClientUpdate{PhoneNumber: &phone, Points: &points})
		require.NoError(t, err)
		assert.Equal(t, "Anna", upd.Name)
		assert.Equal(t, "777", upd.PhoneNumber)
		assert.Equal(t, int64(-4), upd.Points)
		assert.False(t, upd.UpdatedAt.Before(c.UpdatedAt))

		require.NoError(t, s.DeleteClient(ctx, c.ID))
		require.NoError(t, s.DeleteClient(ctx, c.ID))

		_, err = s.GetClient(ctx, c.ID)
		require.ErrorIs(t, err, ErrClientNotFound)

		list, err := s.ListClients(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, list)

		_, err = s.UpdateClient(ctx, c.ID, model.ClientUpdate{PhoneNumber: &phone})
		require.ErrorIs(t, err, ErrClientNotFound)
	})

	t.Run("adjust points and spending with audit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c, err := s.CreateClient(ctx, model.NewClient{Name: "Anna", PhoneNumber: "555", Points: 10, TotalSpentCents: 5000})
		require.NoError(t, err)

		c, err = s.AddSpending(ctx, c.ID, 1999, "cleaning")
		require.NoError(t, err)
		assert.Equal(t, int64(6999), c.TotalSpentCents)
		assert.Equal(t, int64(29), c.Points)

		c, err = s.AdjustPoints(ctx, c.ID, -32, "correction")
		require.NoError(t, err)
		assert.Equal(t, int64(-3), c.Points)

		adjustments, err := s.ListAdjustments(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, adjustments, 1)
		assert.Equal(t, int64(-32), adjustments[0].Points)
		assert.Equal(t, "correction", adjustments[0].Reason)

		spending, err := s.ListSpending(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, spending, 1)
		assert.Equal(t, int64(1999), spending[0].AmountCents)

		_, err = s.AdjustPoints(ctx, uuid.New(), 5, "")
		require.ErrorIs(t, err, ErrClientNotFound)
		_, err = s.AddSpending(ctx, uuid.New(), 100, "")
		require.ErrorIs(t, err, ErrClientNotFound)

		// Журнал переживает удаление клиента.
		require.NoError(t, s.DeleteClient(ctx, c.ID))
		adjustments, err = s.ListAdjustments(ctx, c.ID)
		require.NoError(t, err)
		assert.Len(t, adjustments, 1)
	})

	t.Run("users and profiles", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		u, err := s.CreateUser(ctx, "anna@clinic.example", nil)
		require.NoError(t, err)
		assert.Empty(t, u.PasswordHash)

		_, err = s.CreateUser(ctx, "anna@clinic.example", nil)
		require.ErrorIs(t, err, ErrUserExists)

		byEmail, err := s.GetUserByEmail(ctx, "anna@clinic.example")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)

		_, err = s.GetUserByID(ctx, uuid.New())
		require.ErrorIs(t, err, ErrUserNotFound)

		require.NoError(t, s.SetPasswordHash(ctx, u.ID, []byte("hash")))
		byID, err := s.GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("hash"), byID.PasswordHash)

		_, err = s.GetProfile(ctx, u.ID)
		require.ErrorIs(t, err, ErrProfileNotFound)

		c, err := s.CreateClient(ctx, model.NewClient{Name: "Anna", PhoneNumber: "555"})
		require.NoError(t, err)

		missing := uuid.New()
		err = s.UpsertProfile(ctx, model.Profile{UserID: u.ID, Role: model.RoleClient, ClientID: &missing})
		require.ErrorIs(t, err, ErrClientNotFound)
		err = s.UpsertProfile(ctx, model.Profile{UserID: uuid.New(), Role: model.RoleAdmin})
		require.ErrorIs(t, err, ErrUserNotFound)

		require.NoError(t, s.UpsertProfile(ctx, model.Profile{UserID: u.ID, Role: model.RoleClient, ClientID: &c.ID}))
		p, err := s.GetProfile(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleClient, p.Role)
		require.NotNil(t, p.ClientID)
		assert.Equal(t, c.ID, *p.ClientID)

		// Удаление клиента отвязывает профиль.
		require.NoError(t, s.DeleteClient(ctx, c.ID))
		p, err = s.GetProfile(ctx, u.ID)
		require.NoError(t, err)
		assert.Nil(t, p.ClientID)

		require.NoError(t, s.UpsertProfile(ctx, model.Profile{UserID: u.ID, Role: model.RoleAdmin}))
		p, err = s.GetProfile(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, p.Role)
	})

	t.Run("login challenges", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC().Truncate(time.Microsecond)
		live := model.LoginChallenge{
			ID:        uuid.New(),
			Email:     "anna@clinic.example",
			Secret:    "JBSWY3DPEHPK3PXP",
			ExpiresAt: now.Add(10 * time.Minute),
			CreatedAt: now,
		}
		expired := live
		expired.ID = uuid.New()
		expired.ExpiresAt = now.Add(-time.Minute)

		require.NoError(t, s.CreateLoginChallenge(ctx, live))
		require.NoError(t, s.CreateLoginChallenge(ctx, expired))

		got, err := s.GetLoginChallenge(ctx, live.ID)
		require.NoError(t, err)
		assert.Equal(t, live.Secret, got.Secret)
		assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))
		assert.Nil(t, got.ConsumedAt)

		ok, err := s.ConsumeLoginChallenge(ctx, live.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ConsumeLoginChallenge(ctx, live.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.ConsumeLoginChallenge(ctx, expired.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err = s.GetLoginChallenge(ctx, live.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.ConsumedAt)

		n, err := s.DeleteExpiredLoginChallenges(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.GetLoginChallenge(ctx, expired.ID)
		require.ErrorIs(t, err, ErrChallengeNotFound)
	})

	t.Run("failed login attempts lock challenge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC().Truncate(time.Microsecond)
		ch := model.LoginChallenge{
			ID:        uuid.New(),
			Email:     "victim@clinic.example",
			Secret:    "JBSWY3DPEHPK3PXP",
			ExpiresAt: now.Add(10 * time.Minute),
			CreatedAt: now,
		}
		require.NoError(t, s.CreateLoginChallenge(ctx, ch))

		for want := 1; want < 3; want++ {
			n, err := s.FailLoginAttempt(ctx, ch.ID, 3, now)
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}

		got, err := s.GetLoginChallenge(ctx, ch.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Attempts)
		assert.Nil(t, got.ConsumedAt)

		n, err := s.FailLoginAttempt(ctx, ch.ID, 3, now)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		got, err = s.GetLoginChallenge(ctx, ch.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.ConsumedAt)

		ok, err := s.ConsumeLoginChallenge(ctx, ch.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)

		n, err = s.FailLoginAttempt(ctx, ch.ID, 3, now)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = s.FailLoginAttempt(ctx, uuid.New(), 3, now)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
