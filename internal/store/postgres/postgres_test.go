package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		cfg  ClientConfig
		want string
	}{
		{ClientConfig{DSN: "postgres://x@y/z"}, "postgres://x@y/z"},
		{
			ClientConfig{Host: "db", Database: "market", User: "u", Password: "p"},
			"postgres://u:p@db:5432/market?sslmode=disable",
		},
		{
			ClientConfig{Host: "db", Port: 6543, Database: "market", User: "u", Password: "p", SSLMode: "require"},
			"postgres://u:p@db:6543/market?sslmode=require",
		},
	}
	for _, tt := range tests {
		if got := DSN(tt.cfg); got != tt.want {
			t.Errorf("DSN(%+v) = %q; want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestBuildListQuery(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		opts     domain.ListOpts
		contains []string
		args     []any
	}{
		{
			name:     "defaults",
			opts:     domain.ListOpts{},
			contains: []string{"ORDER BY created_at DESC", "LIMIT $1"},
			args:     []any{maxListLimit},
		},
		{
			name:     "filtered page",
			opts:     domain.ListOpts{Account: "0xAbC", Since: &since, Limit: 10, Offset: 20},
			contains: []string{"lower(account) = lower($1)", "created_at >= $2", "LIMIT $3", "OFFSET $4"},
			args:     []any{"0xAbC", since, 10, 20},
		},
		{
			name:     "limit capped",
			opts:     domain.ListOpts{Limit: 10_000},
			contains: []string{"LIMIT $1"},
			args:     []any{maxListLimit},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.opts)
			for _, c := range tt.contains {
				if !strings.Contains(query, c) {
					t.Errorf("query %q missing %q", query, c)
				}
			}
			if diff := cmp.Diff(tt.args, args); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames() error = %v", err)
	}
	if len(names) == 0 || names[0] != "001_activity_log.sql" {
		t.Errorf("migrationNames() = %v; want 001_activity_log.sql first", names)
	}
}
