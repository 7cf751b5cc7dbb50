package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

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

func TestNewClient_Unreachable(t *testing.T) {
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
		t.Error("Expected error for unreachable redis, got nil")
	}
}

func TestComputeSHA1(t *testing.T) {
	sha := computeSHA1("return 1")
	if len(sha) != 40 {
		t.Errorf("Expected SHA1 length 40, got %d", len(sha))
	}
	if sha != computeSHA1("return 1") {
		t.Error("Same script should produce same SHA")
	}
	if sha == computeSHA1("return 2") {
		t.Error("Different scripts should produce different SHAs")
	}
}

func TestIsNoScriptError(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{nil, false},
		{fmt.Errorf("some error"), false},
		{fmt.Errorf("NOSCRIPT No matching script. Please use EVAL."), true},
		{fmt.Errorf("NOSCRIPT some other message"), true},
	}

	for _, tt := range tests {
		if got := isNoScriptError(tt.err); got != tt.expected {
			t.Errorf("isNoScriptError(%v) = %v, want %v", tt.err, got, tt.expected)
		}
	}
}

func TestEvalWithFallback_CachedScript(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := Wrap(db)
	script := `return tonumber(ARGV[1]) * 2`

	mock.ExpectEvalSha(computeSHA1(script), []string{"k"}, 7).SetVal(int64(14))

	got, err := client.EvalWithFallback(context.Background(), "double", script, []string{"k"}, 7).Int()
	if err != nil {
		t.Fatalf("EvalWithFallback failed: %v", err)
	}
	if got != 14 {
		t.Errorf("Expected 14, got %d", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestEvalWithFallback_NoScriptFallsBackToEval(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := Wrap(db)
	script := `return tonumber(ARGV[1]) * 2`

	mock.ExpectEvalSha(computeSHA1(script), []string{"k"}, 10).
		SetErr(errors.New("NOSCRIPT No matching script. Please use EVAL."))
	mock.ExpectEval(script, []string{"k"}, 10).SetVal(int64(20))

	got, err := client.EvalWithFallback(context.Background(), "double", script, []string{"k"}, 10).Int()
	if err != nil {
		t.Fatalf("EvalWithFallback failed: %v", err)
	}
	if got != 20 {
		t.Errorf("Expected 20, got %d", got)
	}
	if _, ok := client.GetScriptSHA("double"); !ok {
		t.Error("Expected script SHA to be cached")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// Integration tests - require Redis to be running

func TestClient_LuaScript_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := DefaultConfig()
	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	ctx := context.Background()

	client, err := NewClient(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to redis: %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	script := `return tonumber(ARGV[1]) + tonumber(ARGV[2])`
	info, err := client.LoadScript(ctx, "test_add", script)
	if err != nil {
		t.Fatalf("LoadScript failed: %v", err)
	}
	if info.SHA != computeSHA1(script) {
		t.Errorf("Server SHA %s should match local SHA", info.SHA)
	}

	result, err := client.EvalWithFallback(ctx, "test_add", script, nil, 5, 3).Int()
	if err != nil {
		t.Fatalf("EvalWithFallback failed: %v", err)
	}
	if result != 8 {
		t.Errorf("Expected result 8, got %d", result)
	}
}
