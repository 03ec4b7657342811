package storage

import (
	"io/fs"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitAddr(addr string) (string, string, error) {
	return net.SplitHostPort(addr)
}

func TestSplitSQLStatements(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "single statement",
			content: "CREATE TABLE a (x Int32);",
			want:    []string{"CREATE TABLE a (x Int32)"},
		},
		{
			name:    "comments and blank lines dropped",
			content: "-- header\n\nCREATE TABLE a (\n  x Int32\n);\n-- trailing\n",
			want:    []string{"CREATE TABLE a (\n  x Int32\n)"},
		},
		{
			name:    "multiple statements",
			content: "CREATE TABLE a (x Int32);\nCREATE TABLE b (y String);",
			want:    []string{"CREATE TABLE a (x Int32)", "CREATE TABLE b (y String)"},
		},
		{
			name:    "missing final semicolon",
			content: "SELECT 1",
			want:    []string{"SELECT 1"},
		},
		{
			name:    "empty",
			content: "-- nothing\n",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSQLStatements(tt.content))
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Run("postgres migrations come in up/down pairs", func(t *testing.T) {
		entries, err := fs.ReadDir(postgresMigrations, "migrations/postgres")
		require.NoError(t, err)

		ups, downs := 0, 0
		for _, e := range entries {
			switch {
			case strings.HasSuffix(e.Name(), ".up.sql"):
				ups++
			case strings.HasSuffix(e.Name(), ".down.sql"):
				downs++
			}
		}
		assert.Equal(t, ups, downs)
		assert.GreaterOrEqual(t, ups, 3)
	})

	t.Run("clickhouse migrations split cleanly", func(t *testing.T) {
		content, err := fs.ReadFile(clickhouseMigrations, "migrations/clickhouse/001_create_price_change_events.sql")
		require.NoError(t, err)
		stmts := splitSQLStatements(string(content))
		require.NotEmpty(t, stmts)
		for _, s := range stmts {
			assert.False(t, strings.HasSuffix(s, ";"))
		}
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
