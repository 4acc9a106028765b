package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func getTestConfig() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 6379 {
		t.Errorf("Expected port 6379, got %d", cfg.Port)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := &Config{Host: "redis.example.com", Port: 6380}

	if cfg.Addr() != "redis.example.com:6380" {
		t.Errorf("Unexpected addr '%s'", cfg.Addr())
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := &Config{
		Host:          "invalid-host-that-does-not-exist",
		Port:          9999,
		MaxRetries:    0,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   500 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewClient(ctx, cfg); err == nil {
		t.Error("Expected error for invalid config, got nil")
	}
}

func TestClient_SetNXAndGet(t *testing.T) {
	if os.Getenv("TEST_REDIS_HOST") == "" {
		t.Skip("TEST_REDIS_HOST not set")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	key := "test:registry:setnx"
	defer client.Del(ctx, key)

	ok, err := client.SetNX(ctx, key, "first", time.Minute).Result()
	if err != nil || !ok {
		t.Fatalf("First SetNX should succeed: ok=%v err=%v", ok, err)
	}
	ok, _ = client.SetNX(ctx, key, "second", time.Minute).Result()
	if ok {
		t.Error("Second SetNX should not overwrite")
	}

	val, err := client.Get(ctx, key).Result()
	if err != nil || val != "first" {
		t.Errorf("Expected 'first', got %q (err=%v)", val, err)
	}

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
}
