package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aegislabs/aegis-memory/pkg/ace"
	"github.com/aegislabs/aegis-memory/pkg/auth"
	"github.com/aegislabs/aegis-memory/pkg/config"
	"github.com/aegislabs/aegis-memory/pkg/database"
	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/interaction"
	"github.com/aegislabs/aegis-memory/pkg/memory"
	"github.com/aegislabs/aegis-memory/pkg/ratelimit"
)

const testDim = 1536
const testToken = "test-token"

type fakeProvider struct{}

func (f *fakeProvider) Dimensions() int { return testDim }

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		sum := sha256.Sum256([]byte(t))
		v := make([]float32, testDim)
		for j := range v {
			b := sum[j%len(sum)]
			v[j] = float32(binary.BigEndian.Uint16([]byte{b, sum[(j+1)%len(sum)]})) / 65535
		}
		out[i] = v
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts("../../deploy/postgres-init/01-init.sql"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pgContainer) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := database.NewClient(database.Config{
		DSN:             dsn,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 15 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cache, err := embedding.NewCache(client.DB(), &fakeProvider{}, "test-model", 128, 64)
	require.NoError(t, err)
	svc := embedding.NewService(cache, testDim)

	_, err = client.DB().ExecContext(ctx, `INSERT INTO projects (id, name, is_active) VALUES ('default', 'p', true)`)
	require.NoError(t, err)

	cfg := &config.Config{
		Env:                config.EnvDevelopment,
		AegisAPIKey:        testToken,
		EnableMetrics:      true,
		RateLimitPerMinute: 1000,
		RateLimitPerHour:   100000,
		RateLimitBurst:     1000,
	}

	memRepo := memory.New(client.DB(), svc)
	aceRepo := ace.New(client.DB(), memRepo, svc)
	interactionRepo := interaction.New(client.DB(), svc)
	authn := auth.NewLegacyAuthenticator(testToken, "default")
	limiter := ratelimit.NewMemoryLimiter(ratelimit.Config{PerMinute: cfg.RateLimitPerMinute, PerHour: cfg.RateLimitPerHour, Burst: cfg.RateLimitBurst})

	return NewServer(cfg, client.DB(), authn, limiter, memRepo, aceRepo, interactionRepo)
}

func doRequest(s *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealth_DoesNotRequireAuth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAddMemory_MissingTokenReturns401(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/memories/", map[string]any{"content": "x", "agent_id": "a"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddMemory_WrongTokenReturns401(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/memories/", map[string]any{"content": "x", "agent_id": "a"}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddMemory_ValidationFailureReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/memories/", map[string]any{"agent_id": "a"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddAndGetMemory_HappyPath(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/memories/", map[string]any{"content": "the sky is blue", "agent_id": "agent-a"}, testToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Memory struct {
			ID string `json:"id"`
		} `json:"memory"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Memory.ID)

	rec = doRequest(s, http.MethodGet, "/memories/"+created.Memory.ID, nil, testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_SetsCorrelationIDHeader(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil, "")
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestVote_UnknownMemoryReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/ace/vote/does-not-exist", map[string]any{"vote": "helpful", "voter_agent_id": "agent-b"}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_DenialReturns429WithRetryAfter(t *testing.T) {
	s := newTestServer(t)
	s.limiter = ratelimit.NewMemoryLimiter(ratelimit.Config{PerMinute: 1, PerHour: 1000, Burst: 1})

	first := doRequest(s, http.MethodGet, "/memories/does-not-exist", nil, testToken)
	assert.Equal(t, http.StatusNotFound, first.Code)

	second := doRequest(s, http.MethodGet, "/memories/does-not-exist", nil, testToken)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
}
