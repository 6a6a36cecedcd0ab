package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aegislabs/aegis-memory/pkg/database"
	"github.com/aegislabs/aegis-memory/pkg/embedding"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

const testDim = 1536

// fakeProvider returns deterministic, content-derived vectors so semantic
// search ordering is reproducible without a real embedding service.
type fakeProvider struct{ calls int }

func (f *fakeProvider) Dimensions() int { return testDim }

func (f *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = deterministicVector(t)
	}
	return out, nil
}

func deterministicVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, testDim)
	for i := range v {
		b := sum[i%len(sum)]
		v[i] = float32(binary.BigEndian.Uint16([]byte{b, sum[(i+1)%len(sum)]})) / 65535
	}
	return v
}

func newTestRepo(t *testing.T) (*Repository, *sql.DB, *fakeProvider) {
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
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

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

	provider := &fakeProvider{}
	cache, err := embedding.NewCache(client.DB(), provider, "test-model", 128, 64)
	require.NoError(t, err)
	svc := embedding.NewService(cache, testDim)

	_, err = client.DB().ExecContext(ctx, `INSERT INTO projects (id, name, is_active) VALUES ('proj-1', 'p', true)`)
	require.NoError(t, err)

	return New(client.DB(), svc), client.DB(), provider
}

func TestAdd_DedupsIdenticalContent(t *testing.T) {
	repo, _, provider := newTestRepo(t)
	ctx := context.Background()

	in := models.AddInput{Content: "the build is green", AgentID: "agent-a"}

	first, err := repo.Add(ctx, "proj-1", in)
	require.NoError(t, err)
	assert.False(t, first.Deduplicated)

	second, err := repo.Add(ctx, "proj-1", in)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)

	// Only one embedding call should have happened since the dedup hit
	// short-circuits before reaching the provider.
	assert.Equal(t, 1, provider.calls)
}

func TestAdd_ValidatesSharedWithInvariant(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Add(ctx, "proj-1", models.AddInput{
		Content: "x", AgentID: "agent-a", Scope: models.ScopeAgentShared,
	})
	assert.Error(t, err)

	_, err = repo.Add(ctx, "proj-1", models.AddInput{
		Content: "x", AgentID: "agent-a", Scope: models.ScopeAgentPrivate, SharedWith: []string{"agent-b"},
	})
	assert.Error(t, err)
}

func TestAdd_RequiresContentAndAgent(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Add(ctx, "proj-1", models.AddInput{AgentID: "agent-a"})
	assert.Error(t, err)

	_, err = repo.Add(ctx, "proj-1", models.AddInput{Content: "x"})
	assert.Error(t, err)
}

func TestAddBatch_SingleEmbeddingCallForAllMisses(t *testing.T) {
	repo, _, provider := newTestRepo(t)
	ctx := context.Background()

	items := []models.AddInput{
		{Content: "fact one", AgentID: "agent-a"},
		{Content: "fact two", AgentID: "agent-a"},
		{Content: "fact three", AgentID: "agent-a"},
	}
	result, err := repo.AddBatch(ctx, "proj-1", items)
	require.NoError(t, err)
	assert.Len(t, result.Added, 3)
	assert.Empty(t, result.Deduplicated)
	assert.Equal(t, 1, provider.calls)

	// Re-adding the same batch dedups every item without touching the provider again.
	result2, err := repo.AddBatch(ctx, "proj-1", items)
	require.NoError(t, err)
	assert.Empty(t, result2.Added)
	assert.Len(t, result2.Deduplicated, 3)
	assert.Equal(t, 1, provider.calls)
}

func TestGet_And_Delete(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	added, err := repo.Add(ctx, "proj-1", models.AddInput{Content: "ephemeral fact", AgentID: "agent-a"})
	require.NoError(t, err)

	got, err := repo.Get(ctx, "proj-1", added.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, added.Memory.Content, got.Content)

	require.NoError(t, repo.Delete(ctx, "proj-1", added.Memory.ID))

	_, err = repo.Get(ctx, "proj-1", added.Memory.ID)
	assert.Error(t, err)

	err = repo.Delete(ctx, "proj-1", added.Memory.ID)
	assert.Error(t, err)
}

func TestSemanticSearch_ACLExcludesPrivateMemoriesOfOthers(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Add(ctx, "proj-1", models.AddInput{
		Content: "agent-a secret note", AgentID: "agent-a", Scope: models.ScopeAgentPrivate,
	})
	require.NoError(t, err)
	_, err = repo.Add(ctx, "proj-1", models.AddInput{
		Content: "shared knowledge for everyone", AgentID: "agent-a", Scope: models.ScopeGlobal,
	})
	require.NoError(t, err)

	results, err := repo.SemanticSearch(ctx, "proj-1", "agent-b", "note", SearchOptions{TopK: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "agent-a secret note", r.Memory.Content)
	}
}

func TestSemanticSearch_AgentSharedVisibleToACLMember(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	added, err := repo.Add(ctx, "proj-1", models.AddInput{
		Content: "shared with agent-b only", AgentID: "agent-a",
		Scope: models.ScopeAgentShared, SharedWith: []string{"agent-b"},
	})
	require.NoError(t, err)

	results, err := repo.SemanticSearch(ctx, "proj-1", "agent-b", "shared with agent-b only", SearchOptions{TopK: 10})
	require.NoError(t, err)
	var found bool
	for _, r := range results {
		if r.Memory.ID == added.Memory.ID {
			found = true
		}
	}
	assert.True(t, found)

	results, err = repo.SemanticSearch(ctx, "proj-1", "agent-c", "shared with agent-b only", SearchOptions{TopK: 10})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, added.Memory.ID, r.Memory.ID)
	}
}

func TestListBySession_OrdersBySequenceNumber(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()
	sessionID := "sess-1"

	seq1, seq2 := int64(1), int64(2)
	_, err := repo.Add(ctx, "proj-1", models.AddInput{
		Content: "step two", AgentID: "agent-a", MemoryType: models.MemoryTypeEpisodic, SessionID: &sessionID, SequenceNumber: &seq2,
	})
	require.NoError(t, err)
	_, err = repo.Add(ctx, "proj-1", models.AddInput{
		Content: "step one", AgentID: "agent-a", MemoryType: models.MemoryTypeEpisodic, SessionID: &sessionID, SequenceNumber: &seq1,
	})
	require.NoError(t, err)

	list, err := repo.ListBySession(ctx, "proj-1", sessionID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "step one", list[0].Content)
	assert.Equal(t, "step two", list[1].Content)
}

func TestListByEntity_OrdersByCreatedAtDesc(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()
	entityID := "entity-1"

	_, err := repo.Add(ctx, "proj-1", models.AddInput{
		Content: "first fact", AgentID: "agent-a", MemoryType: models.MemoryTypeSemantic, EntityID: &entityID,
	})
	require.NoError(t, err)
	_, err = repo.Add(ctx, "proj-1", models.AddInput{
		Content: "second fact", AgentID: "agent-a", MemoryType: models.MemoryTypeSemantic, EntityID: &entityID,
	})
	require.NoError(t, err)

	list, err := repo.ListByEntity(ctx, "proj-1", entityID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second fact", list[0].Content)
}

func TestExport_PagesByCreatedAtCursor(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.Add(ctx, "proj-1", models.AddInput{Content: "page item " + string(rune('a'+i)), AgentID: "agent-a"})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	page, err := repo.Export(ctx, "proj-1", ExportFilters{}, nil, "")
	require.NoError(t, err)
	require.Len(t, page, 3)

	last := page[len(page)-1]
	afterCreatedAt := last.CreatedAt.Format(time.RFC3339Nano)
	nextPage, err := repo.Export(ctx, "proj-1", ExportFilters{}, &afterCreatedAt, last.ID)
	require.NoError(t, err)
	assert.Empty(t, nextPage)
}

func TestAdd_TTLSetsExpiresAt(t *testing.T) {
	repo, _, _ := newTestRepo(t)
	ctx := context.Background()

	ttl := int64(3600)
	result, err := repo.Add(ctx, "proj-1", models.AddInput{
		Content: "expires soon", AgentID: "agent-a", TTLSeconds: &ttl,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Memory.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *result.Memory.ExpiresAt, time.Minute)
}
