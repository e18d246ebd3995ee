package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loyalty-points/internal/metrics"
	"github.com/mmeshcher/loyalty-points/internal/model"
	"github.com/mmeshcher/loyalty-points/internal/repository"
)

func newTestService(repo *stubRepo) *Service {
	return NewService(repo, nil, metrics.New(), nil, Options{LoginLinkBaseURL: "http://localhost:8080/login/verify"})
}

func mustCreateClient(t *testing.T, svc *Service, nc model.NewClient) *model.Client {
	t.Helper()
	c, err := svc.CreateClient(context.Background(), nc)
	require.NoError(t, err)
	return c
}

func TestCreateClient_Validation(t *testing.T) {
	tests := []struct {
		name       string
		in         model.NewClient
		wantFields []string
	}{
		{
			name:       "empty name",
			in:         model.NewClient{Name: "", PhoneNumber: "+1 555 0100"},
			wantFields: []string{"name"},
		},
		{
			name:       "whitespace name and phone",
			in:         model.NewClient{Name: "   ", PhoneNumber: "\t "},
			wantFields: []string{"name", "phoneNumber"},
		},
		{
			name:       "negative total spent",
			in:         model.NewClient{Name: "Anna", PhoneNumber: "555", TotalSpentCents: -1},
			wantFields: []string{"totalSpent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo()
			svc := newTestService(repo)

			_, err := svc.CreateClient(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			got := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.wantFields, got)
			assert.Empty(t, repo.clients)
		})
	}
}

func TestCreateClient_TrimsAndDefaults(t *testing.T) {
	svc := newTestService(newStubRepo())

	c := mustCreateClient(t, svc, model.NewClient{Name: "  Anna Petrova ", PhoneNumber: " 555-0100 "})

	assert.Equal(t, "Anna Petrova", c.Name)
	assert.Equal(t, "555-0100", c.PhoneNumber)
	assert.Equal(t, int64(0), c.Points)
	assert.Equal(t, int64(0), c.TotalSpentCents)
	assert.NotEqual(t, uuid.Nil, c.ID)
}

func TestUpdateClient_RejectsBlankFields(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555"})

	blank := "  "
	_, err := svc.UpdateClient(context.Background(), c.ID, model.ClientUpdate{Name: &blank})
	require.ErrorIs(t, err, ErrValidation)

	name := "Anna Smirnova"
	upd, err := svc.UpdateClient(context.Background(), c.ID, model.ClientUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Anna Smirnova", upd.Name)
	assert.Equal(t, "555", upd.PhoneNumber)
}

func TestUpdateClient_NotFound(t *testing.T) {
	svc := newTestService(newStubRepo())

	name := "Anna"
	_, err := svc.UpdateClient(context.Background(), uuid.New(), model.ClientUpdate{Name: &name})
	require.ErrorIs(t, err, repository.ErrClientNotFound)
}

func TestAddSpending_Scenario(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555", Points: 10, TotalSpentCents: 5000})

	upd, err := svc.AddSpending(context.Background(), c.ID, 19.99, " cleaning ")
	require.NoError(t, err)

	assert.Equal(t, int64(6999), upd.TotalSpentCents)
	assert.InDelta(t, 69.99, upd.TotalSpent(), 1e-9)
	assert.Equal(t, int64(29), upd.Points)
}

func TestAddSpending_Validation(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555"})

	for _, amount := range []float64{0, -5, 0.004} {
		_, err := svc.AddSpending(context.Background(), c.ID, amount, "")
		assert.ErrorIs(t, err, ErrValidation, "amount %v", amount)
	}
}

func TestAddSpending_WritesAuditRecord(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555"})

	_, err := svc.AddSpending(context.Background(), c.ID, 120.5, "  implant ")
	require.NoError(t, err)

	records, err := svc.ListSpending(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(12050), records[0].AmountCents)
	assert.Equal(t, "implant", records[0].Description)
}

func TestAdjustPoints_NegativeResultIsAllowed(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555", Points: 5})

	res, err := svc.AdjustPoints(context.Background(), c.ID, -8, "correction")
	require.NoError(t, err)

	assert.Equal(t, int64(-3), res.Client.Points)
	assert.Equal(t, NegativeBalanceWarning, res.Warning)
}

func TestAdjustPoints_ZeroDelta(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555"})

	_, err := svc.AdjustPoints(context.Background(), c.ID, 0, "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestAdjustPoints_PositiveHasNoWarning(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555"})

	res, err := svc.AdjustPoints(context.Background(), c.ID, 15, "bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Client.Points)
	assert.Empty(t, res.Warning)
}

func TestBalanceOverflowIsValidationError(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo)
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555", Points: 10})

	_, err := svc.AdjustPoints(context.Background(), c.ID, math.MaxInt64, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AdjustPoints(context.Background(), c.ID, math.MinInt64, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AdjustPoints(context.Background(), c.ID, model.MaxBalance, "")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.AddSpending(context.Background(), c.ID, 1e300, "")
	require.ErrorIs(t, err, ErrValidation)

	huge := int64(math.MaxInt64)
	_, err = svc.UpdateClient(context.Background(), c.ID, model.ClientUpdate{Points: &huge, TotalSpentCents: &huge})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateClient(context.Background(), model.NewClient{Name: "Boris", PhoneNumber: "1", Points: math.MinInt64})
	require.ErrorIs(t, err, ErrValidation)

	got, err := svc.GetClient(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Points)
	assert.Empty(t, repo.adjustments)
}

func TestAdjustPoints_UnknownClient(t *testing.T) {
	svc := newTestService(newStubRepo())

	_, err := svc.AdjustPoints(context.Background(), uuid.New(), 5, "")
	require.ErrorIs(t, err, repository.ErrClientNotFound)
}

func TestDeleteClient_RemovedFromList(t *testing.T) {
	svc := newTestService(newStubRepo())
	keep := mustCreateClient(t, svc, model.NewClient{Name: "Boris", PhoneNumber: "111"})
	gone := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "222"})

	require.NoError(t, svc.DeleteClient(context.Background(), gone.ID))
	require.NoError(t, svc.DeleteClient(context.Background(), gone.ID))

	list, err := svc.ListClients(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
}

func TestPreview(t *testing.T) {
	c := model.Client{Points: 10, TotalSpentCents: 5000}

	adj := PreviewAdjustment(c, -12)
	assert.Equal(t, AdjustmentPreview{NewPoints: -2, Negative: true}, adj)

	sp := PreviewSpending(c, 19.99)
	assert.Equal(t, int64(19), sp.PointsEarned)
	assert.Equal(t, int64(29), sp.NewPoints)
	assert.InDelta(t, 69.99, sp.NewTotalSpent, 1e-9)

	bad := PreviewSpending(c, -1)
	assert.Equal(t, int64(0), bad.PointsEarned)
	assert.Equal(t, int64(10), bad.NewPoints)
}

func TestOwnClient_WithoutProfile(t *testing.T) {
	svc := newTestService(newStubRepo())

	_, err := svc.OwnClient(context.Background(), model.Identity{UserID: uuid.New(), Role: model.RoleClient})
	require.ErrorIs(t, err, ErrProfileNotFound)

	_, err = svc.UpdateOwnPhone(context.Background(), model.Identity{Role: model.RoleClient}, "555")
	require.ErrorIs(t, err, ErrProfileNotFound)
}

func TestUpdateOwnPhone(t *testing.T) {
	svc := newTestService(newStubRepo())
	c := mustCreateClient(t, svc, model.NewClient{Name: "Anna", PhoneNumber: "555"})
	identity := model.Identity{UserID: uuid.New(), Role: model.RoleClient, ClientID: &c.ID}

	upd, err := svc.UpdateOwnPhone(context.Background(), identity, " 777 ")
	require.NoError(t, err)
	assert.Equal(t, "777", upd.PhoneNumber)
	assert.Equal(t, "Anna", upd.Name)

	_, err = svc.UpdateOwnPhone(context.Background(), identity, " ")
	require.ErrorIs(t, err, ErrValidation)
}
