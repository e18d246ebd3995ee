package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/repository"
)

// stubRepo хранит данные в памяти и умеет возвращать заданные ошибки.
type stubRepo struct {
	mu sync.Mutex

	clients     map[uuid.UUID]model.Client
	adjustments []model.PointsAdjustment
	spending    []model.SpendingRecord
	users       map[uuid.UUID]model.User
	profiles    map[uuid.UUID]model.Profile
	challenges  map[uuid.UUID]model.LoginChallenge

	getUserErr    error
	getProfileErr error
	purged        int64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		clients:    make(map[uuid.UUID]model.Client),
		users:      make(map[uuid.UUID]model.User),
		profiles:   make(map[uuid.UUID]model.Profile),
		challenges: make(map[uuid.UUID]model.LoginChallenge),
	}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) Ping(ctx context.Context) error { return nil }

func (s *stubRepo) ListClients(ctx context.Context, search string) ([]model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if search == "" ||
			strings.Contains(strings.ToLower(c.Name), strings.ToLower(search)) ||
			strings.Contains(c.PhoneNumber, search) {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *stubRepo) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, repository.ErrClientNotFound
	}
	return &c, nil
}

func (s *stubRepo) CreateClient(ctx context.Context, nc model.NewClient) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	c := model.Client{
		ID:              uuid.New(),
		Name:            nc.Name,
		PhoneNumber:     nc.PhoneNumber,
		Points:          nc.Points,
		TotalSpentCents: nc.TotalSpentCents,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.clients[c.ID] = c
	return &c, nil
}

func (s *stubRepo) UpdateClient(ctx context.Context, id uuid.UUID, upd model.ClientUpdate) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, repository.ErrClientNotFound
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.PhoneNumber != nil {
		c.PhoneNumber = *upd.PhoneNumber
	}
	if upd.Points != nil {
		c.Points = *upd.Points
	}
	if upd.TotalSpentCents != nil {
		c.TotalSpentCents = *upd.TotalSpentCents
	}
	c.UpdatedAt = time.Now().UTC()
	s.clients[id] = c
	return &c, nil
}

func (s *stubRepo) DeleteClient(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, id)
	return nil
}

func (s *stubRepo) AdjustPoints(ctx context.Context, id uuid.UUID, delta int64, reason string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, repository.ErrClientNotFound
	}
	c.Points += delta
	s.clients[id] = c
	s.adjustments = append(s.adjustments, model.PointsAdjustment{
		ID:       int64(len(s.adjustments) + 1),
		ClientID: id,
		Points:   delta,
		Reason:   reason,
	})
	return &c, nil
}

func (s *stubRepo) AddSpending(ctx context.Context, id uuid.UUID, amountCents int64, description string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return nil, repository.ErrClientNotFound
	}
	c.TotalSpentCents += amountCents
	c.Points += amountCents / 100
	s.clients[id] = c
	s.spending = append(s.spending, model.SpendingRecord{
		ID:          int64(len(s.spending) + 1),
		ClientID:    id,
		AmountCents: amountCents,
		Description: description,
	})
	return &c, nil
}

func (s *stubRepo) ListAdjustments(ctx context.Context, clientID uuid.UUID) ([]model.PointsAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.PointsAdjustment, 0)
	for _, a := range s.adjustments {
		if a.ClientID == clientID {
			res = append(res, a)
		}
	}
	return res, nil
}

func (s *stubRepo) ListSpending(ctx context.Context, clientID uuid.UUID) ([]model.SpendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]model.SpendingRecord, 0)
	for _, r := range s.spending {
		if r.ClientID == clientID {
			res = append(res, r)
		}
	}
	return res, nil
}

func (s *stubRepo) CreateUser(ctx context.Context, email string, passwordHash []byte) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return nil, repository.ErrUserExists
		}
	}
	u := model.User{ID: uuid.New(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	return &u, nil
}

func (s *stubRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getUserErr != nil {
		return nil, s.getUserErr
	}
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (s *stubRepo) SetPasswordHash(ctx context.Context, userID uuid.UUID, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

func (s *stubRepo) GetProfile(ctx context.Context, userID uuid.UUID) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getProfileErr != nil {
		return nil, s.getProfileErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, repository.ErrProfileNotFound
	}
	return &p, nil
}

func (s *stubRepo) UpsertProfile(ctx context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[p.UserID]; !ok {
		return repository.ErrUserNotFound
	}
	if p.ClientID != nil {
		if _, ok := s.clients[*p.ClientID]; !ok {
			return repository.ErrClientNotFound
		}
	}
	s.profiles[p.UserID] = p
	return nil
}

func (s *stubRepo) CreateLoginChallenge(ctx context.Context, ch model.LoginChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[ch.ID] = ch
	return nil
}

func (s *stubRepo) GetLoginChallenge(ctx context.Context, id uuid.UUID) (*model.LoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	return &ch, nil
}

func (s *stubRepo) ConsumeLoginChallenge(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok || ch.ConsumedAt != nil || !at.Before(ch.ExpiresAt) {
		return false, nil
	}
	ch.ConsumedAt = &at
	s.challenges[id] = ch
	return true, nil
}

func (s *stubRepo) FailLoginAttempt(ctx context.Context, id uuid.UUID, maxAttempts int, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok || ch.ConsumedAt != nil {
		return 0, nil
	}
	ch.Attempts++
	if ch.Attempts >= maxAttempts {
		ch.ConsumedAt = &at
	}
	s.challenges[id] = ch
	return ch.Attempts, nil
}

func (s *stubRepo) DeleteExpiredLoginChallenges(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, ch := range s.challenges {
		if ch.ExpiresAt.Before(before) {
			delete(s.challenges, id)
			n++
		}
	}
	s.purged += n
	return n, nil
}

// captureSender запоминает последнюю отправленную ссылку.
type captureSender struct {
	email string
	link  string
	code  string
}

func (c *captureSender) SendLoginLink(ctx context.Context, email, link, code string) error {
	c.email, c.link, c.code = email, link, code
	return nil
}
