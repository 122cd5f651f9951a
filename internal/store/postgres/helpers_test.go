package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "desk", User: "u", Password: "p"})
	want := "postgres://u:p@db:5432/desk?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}); got != "postgres://x" {
		t.Fatalf("explicit DSN not preferred: %q", got)
	}
}

func TestListQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT * FROM fills WHERE symbol = $1", "ts", []any{"BTCUSDT"},
		domain.ListOpts{Since: &since, Limit: 10, Offset: 20})

	for _, frag := range []string{"ts >= $2", "ORDER BY ts DESC", "LIMIT $3", "OFFSET $4"} {
		if !strings.Contains(q, frag) {
			t.Errorf("query %q missing %q", q, frag)
		}
	}
	if len(args) != 4 || args[0] != "BTCUSDT" || args[2] != 10 || args[3] != 20 {
		t.Fatalf("args = %v", args)
	}
}

func TestListQueryDefaultLimit(t *testing.T) {
	_, args := listQuery("SELECT 1 WHERE TRUE", "created_at", nil, domain.ListOpts{Limit: 5000})
	if len(args) != 1 || args[0] != 100 {
		t.Fatalf("args = %v, want default limit 100", args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("names = %v", names)
	}
}
