package storage

import (
	"testing"

	"github.com/portfolio-dashboard/internal/config"
)

func TestNewPoolConfig(t *testing.T) {
	tests := []struct {
		name     string
		password string
	}{
		{name: "empty password", password: ""},
		{name: "password with reserved characters", password: "p@ss word/with:colons"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.PostgresConfig{
				Host:           "localhost",
				Port:           "5432",
				Database:       "portfolio_dashboard",
				User:           "dashboard",
				Password:       tt.password,
				MaxConnections: 7,
			}

			poolConfig, err := newPoolConfig(cfg)
			if err != nil {
				t.Fatalf("newPoolConfig() error = %v", err)
			}
			conn := poolConfig.ConnConfig
			if conn.Database != "portfolio_dashboard" {
				t.Errorf("Database = %q, want portfolio_dashboard", conn.Database)
			}
			if conn.Password != tt.password {
				t.Errorf("Password = %q, want %q", conn.Password, tt.password)
			}
			if conn.User != "dashboard" || conn.Host != "localhost" || conn.Port != 5432 {
				t.Errorf("unexpected target %s@%s:%d", conn.User, conn.Host, conn.Port)
			}
			if poolConfig.MaxConns != 7 {
				t.Errorf("MaxConns = %d, want 7", poolConfig.MaxConns)
			}
		})
	}
}
