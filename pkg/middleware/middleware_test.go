package middleware

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/golang-jwt/jwt/v5"
	pkgredis "github.com/prohmpiriya/ticketing-core/pkg/redis"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID_GeneratesNew(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	headerID := w.Header().Get(RequestIDHeader)
	if headerID == "" {
		t.Fatal("Expected X-Request-ID header to be set")
	}
	if headerID != w.Body.String() {
		t.Errorf("Header ID (%s) should match body ID (%s)", headerID, w.Body.String())
	}
}

func TestRequestID_UsesExisting(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "existing-request-id-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() != "existing-request-id-123" {
		t.Errorf("Expected existing ID, got %s", w.Body.String())
	}
}

func signedToken(t *testing.T, secret string, claims AccessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func authRouter(cfg AuthConfig) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(cfg))
	r.GET("/me", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		c.String(http.StatusOK, userID+"|"+c.GetString(ContextKeyRole))
	})
	return r
}

func TestAuthenticate(t *testing.T) {
	cfg := AuthConfig{Secret: "test-secret", Issuer: "ticketing-core", TrustGatewayHeaders: true}
	valid := signedToken(t, cfg.Secret, AccessClaims{
		UserID: "user-001",
		Role:   "organizer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ticketing-core",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	expired := signedToken(t, cfg.Secret, AccessClaims{
		UserID: "user-001",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ticketing-core",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{"bearer token", map[string]string{"Authorization": "Bearer " + valid}, http.StatusOK, "user-001|organizer"},
		{"expired token", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, ""},
		{"malformed header", map[string]string{"Authorization": "Token abc"}, http.StatusUnauthorized, ""},
		{"gateway header", map[string]string{UserIDHeader: "user-002", UserRoleHeader: "customer"}, http.StatusOK, "user-002|customer"},
		{"anonymous", nil, http.StatusUnauthorized, ""},
	}

	r := authRouter(cfg)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestAuthenticate_GatewayHeadersIgnoredWhenUntrusted(t *testing.T) {
	r := authRouter(AuthConfig{Secret: "s"})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, "user-002")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func scriptSHA() string {
	sum := sha1.Sum([]byte(tokenBucketScript))
	return hex.EncodeToString(sum[:])
}

func limiterRouter(rl *RedisRateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextKeyUserID, "user-001")
		c.Next()
	})
	r.Use(rl.Middleware())
	r.POST("/purchase", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	return r
}

func TestRateLimiter(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	keys := []string{"ratelimit:purchase:user-001"}

	tests := []struct {
		name       string
		reply      []interface{}
		err        error
		wantStatus int
	}{
		{"allowed", []interface{}{int64(1), int64(4)}, nil, http.StatusCreated},
		{"exhausted", []interface{}{int64(0), int64(0)}, nil, http.StatusTooManyRequests},
		{"redis down fails open", nil, errors.New("connection refused"), http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			rl := NewRedisRateLimiter(RateLimitConfig{
				Redis:     pkgredis.Wrap(db),
				PerMinute: 6,
				BurstSize: 5,
				Now:       func() time.Time { return now },
			})

			exp := mock.ExpectEvalSha(scriptSHA(), keys, "0.1", 5, now.UnixMilli())
			if tt.err != nil {
				exp.SetErr(tt.err)
			} else {
				exp.SetVal(tt.reply)
			}

			w := httptest.NewRecorder()
			limiterRouter(rl).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/purchase", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func idempotencyRouter(rdb RedisClient, calls *int) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextKeyUserID, "user-001")
		c.Next()
	})
	cfg := DefaultIdempotencyConfig(rdb)
	cfg.Now = func() time.Time { return time.Unix(0, 0).UTC() }
	r.Use(Idempotency(cfg))
	r.POST("/purchase", func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusCreated, gin.H{"payment_id": "pay-1"})
	})
	return r
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	calls := 0
	body := `{"ticket_type_id":"tt-1","quantity":1}`
	hash := hashRequest(http.MethodPost, "/purchase", "user-001", []byte(body))
	stored, _ := json.Marshal(IdempotencyRecord{
		Key:          "key-1",
		Status:       StatusCompleted,
		RequestHash:  hash,
		ResponseCode: http.StatusCreated,
		ResponseBody: `{"payment_id":"pay-1"}`,
	})
	mock.ExpectGet(IdempotencyKeyPrefix + "user-001:key-1").SetVal(string(stored))

	req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	w := httptest.NewRecorder()
	idempotencyRouter(pkgredis.Wrap(db), &calls).ServeHTTP(w, req)

	if calls != 0 {
		t.Errorf("handler called %d times, want 0", calls)
	}
	if w.Code != http.StatusCreated || w.Header().Get("Idempotent-Replayed") != "true" {
		t.Errorf("expected replayed 201, got %d", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIdempotency_RejectsKeyReuseWithDifferentBody(t *testing.T) {
	db, mock := redismock.NewClientMock()
	calls := 0
	stored, _ := json.Marshal(IdempotencyRecord{Key: "key-1", Status: StatusCompleted, RequestHash: "other"})
	mock.ExpectGet(IdempotencyKeyPrefix + "user-001:key-1").SetVal(string(stored))

	req := httptest.NewRequest(http.MethodPost, "/purchase", strings.NewReader(`{"quantity":2}`))
	req.Header.Set(IdempotencyKeyHeader, "key-1")
	w := httptest.NewRecorder()
	idempotencyRouter(pkgredis.Wrap(db), &calls).ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if calls != 0 {
		t.Error("handler should not run")
	}
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	db, mock := redismock.NewClientMock()
	calls := 0

	w := httptest.NewRecorder()
	idempotencyRouter(pkgredis.Wrap(db), &calls).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/purchase", nil))

	if calls != 1 || w.Code != http.StatusCreated {
		t.Errorf("expected handler to run once, calls=%d status=%d", calls, w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
