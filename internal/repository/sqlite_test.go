package repository

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteRepository(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		t.Helper()

		r, err := NewSQLiteRepository(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = r.Close() })

		return r
	})
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		wantErr bool
	}{
		{name: "empty", dsn: "  ", wantErr: true},
		{name: "sqlite without path", dsn: "sqlite:", wantErr: true},
		{name: "sqlite in memory", dsn: "sqlite::memory:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(tt.dsn)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NoError(t, s.Close())
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t,
		"file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite",
		sqliteDSN(":memory:"))
	require.Equal(t,
		"file:data/loyalty.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite",
		sqliteDSN("data/loyalty.db?mode=rwc"))
}
