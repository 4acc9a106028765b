package database

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	if cfg.Database != "ticket_registry" {
		t.Errorf("Expected database ticket_registry, got %s", cfg.Database)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.Password != "" {
		t.Error("Default password must be empty")
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := &PostgresConfig{Host: "db", Port: 5433, User: "registry", Password: "pw", Database: "tickets", SSLMode: "require"}

	expected := "host=db port=5433 user=registry password=pw dbname=tickets sslmode=require"
	if cfg.DSN() != expected {
		t.Errorf("Expected %q, got %q", expected, cfg.DSN())
	}
}

func TestNewPostgres_Unreachable(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "postgres",
		Database:       "none",
		SSLMode:        "disable",
		MaxConns:       1,
		ConnectTimeout: 200 * time.Millisecond,
		MaxRetries:     1,
		RetryInterval:  10 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := NewPostgres(ctx, cfg); err == nil {
		t.Error("Expected error connecting to unreachable postgres")
	}
}

func TestNewPostgres_HealthCheck(t *testing.T) {
	if os.Getenv("TEST_DATABASE_HOST") == "" {
		t.Skip("TEST_DATABASE_HOST not set")
	}

	cfg := DefaultPostgresConfig()
	cfg.Host = os.Getenv("TEST_DATABASE_HOST")
	cfg.Password = os.Getenv("TEST_DATABASE_PASSWORD")

	db, err := NewPostgres(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}
