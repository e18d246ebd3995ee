package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Тест запускает PostgreSQL в контейнере и включается переменной LOYALTY_INTEGRATION=1.
func TestPostgresRepository(t *testing.T) {
	if os.Getenv("LOYALTY_INTEGRATION") != "1" {
		t.Skip("set LOYALTY_INTEGRATION=1 to run PostgreSQL integration tests")
	}

	dsn := startPostgres(t)

	runStoreTests(t, func(t *testing.T) Store {
		t.Helper()

		r, err := NewPostgresRepository(dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })

		_, err = r.pool.Exec(context.Background(),
			`TRUNCATE profiles, users, clients, points_adjustments, spending_records, login_challenges RESTART IDENTITY CASCADE`)
		require.NoError(t, err)

		return r
	})
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "loyalty",
			"POSTGRES_PASSWORD": "loyalty",
			"POSTGRES_DB":       "loyalty",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://loyalty:loyalty@%s:%s/loyalty?sslmode=disable", host, port.Port())
}
