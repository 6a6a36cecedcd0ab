package ace

import (
	"context"
	"crypto/sha256"
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
	"github.com/aegislabs/aegis-memory/pkg/memory"
	"github.com/aegislabs/aegis-memory/pkg/models"
)

const testDim = 1536

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

func newTestRepo(t *testing.T) (*Repository, *memory.Repository) {
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

	_, err = client.DB().ExecContext(ctx, `INSERT INTO projects (id, name, is_active) VALUES ('proj-1', 'p', true)`)
	require.NoError(t, err)

	memRepo := memory.New(client.DB(), svc)
	return New(client.DB(), memRepo, svc), memRepo
}

func TestVote_IncrementsCounterAndRecordsHistory(t *testing.T) {
	repo, mem := newTestRepo(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "a strategy", AgentID: "agent-a", MemoryType: models.MemoryTypeStrategy})
	require.NoError(t, err)

	require.NoError(t, repo.Vote(ctx, "proj-1", added.Memory.ID, "agent-b", models.VoteHelpful, nil, nil))
	require.NoError(t, repo.Vote(ctx, "proj-1", added.Memory.ID, "agent-c", models.VoteHarmful, nil, nil))

	got, err := mem.Get(ctx, "proj-1", added.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.HelpfulVotes)
	assert.Equal(t, int64(1), got.HarmfulVotes)
	assert.Equal(t, float64(0), got.Effectiveness())
}

func TestVote_RejectsUnknownKind(t *testing.T) {
	repo, mem := newTestRepo(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "x", AgentID: "agent-a"})
	require.NoError(t, err)

	err = repo.Vote(ctx, "proj-1", added.Memory.ID, "agent-b", models.VoteKind("bogus"), nil, nil)
	assert.Error(t, err)
}

func TestDelta_AppliesOpsInOneTransaction(t *testing.T) {
	repo, mem := newTestRepo(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "to be deprecated", AgentID: "agent-a"})
	require.NoError(t, err)

	outcomes, err := repo.Delta(ctx, "proj-1", []models.DeltaOp{
		{Type: models.DeltaAdd, Add: &models.AddInput{Content: "brand new fact", AgentID: "agent-a"}},
		{Type: models.DeltaUpdate, MemoryID: added.Memory.ID, MetadataPatch: map[string]any{"tag": "reviewed"}},
		{Type: models.DeltaDeprecate, MemoryID: added.Memory.ID, DeprecationReason: strPtr("superseded")},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	got, err := mem.Get(ctx, "proj-1", added.Memory.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeprecated)
	assert.Equal(t, "reviewed", got.Metadata["tag"])
}

func TestDelta_RollsBackEntireBatchOnFailure(t *testing.T) {
	repo, mem := newTestRepo(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "survives the rollback check", AgentID: "agent-a"})
	require.NoError(t, err)

	_, err = repo.Delta(ctx, "proj-1", []models.DeltaOp{
		{Type: models.DeltaUpdate, MemoryID: added.Memory.ID, MetadataPatch: map[string]any{"tag": "x"}},
		{Type: models.DeltaUpdate, MemoryID: "does-not-exist", MetadataPatch: map[string]any{"tag": "y"}},
	})
	assert.Error(t, err)

	got, err := mem.Get(ctx, "proj-1", added.Memory.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Metadata["tag"])
}

func TestReflection_EmitsReflectedAndCreatesReflectionMemory(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	errPattern := "nil pointer on retry path"
	mem, err := repo.Reflection(ctx, "proj-1", ReflectionInput{
		Content:      "retries must check for nil before dereferencing",
		AgentID:      "agent-a",
		ErrorPattern: &errPattern,
	})
	require.NoError(t, err)
	assert.Equal(t, models.MemoryTypeReflection, mem.MemoryType)
	assert.Equal(t, errPattern, mem.Metadata["error_pattern"])
}

func TestSessionStateMachine_RejectsInvalidTransitions(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateSession(ctx, "proj-1", "sess-1", "agent-a", "starting work")
	require.NoError(t, err)

	completed := models.SessionCompleted
	_, err = repo.UpdateSession(ctx, "proj-1", "sess-1", models.SessionPatch{Status: &completed})
	require.NoError(t, err)

	active := models.SessionActive
	_, err = repo.UpdateSession(ctx, "proj-1", "sess-1", models.SessionPatch{Status: &active})
	assert.Error(t, err)
}

func TestFeatureStateMachine_CompleteRequiresVerification(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateFeature(ctx, "proj-1", "feat-1", "ship the thing", []string{"unit tests pass"})
	require.NoError(t, err)

	inProgress := models.FeatureInProgress
	_, err = repo.UpdateFeature(ctx, "proj-1", "feat-1", models.FeaturePatch{Status: &inProgress})
	require.NoError(t, err)

	toTesting := models.FeatureTesting
	_, err = repo.UpdateFeature(ctx, "proj-1", "feat-1", models.FeaturePatch{Status: &toTesting})
	require.NoError(t, err)

	complete := models.FeatureComplete
	_, err = repo.UpdateFeature(ctx, "proj-1", "feat-1", models.FeaturePatch{Status: &complete})
	assert.Error(t, err, "complete without verified_by must fail")

	verifier := "ci-bot"
	_, err = repo.UpdateFeature(ctx, "proj-1", "feat-1", models.FeaturePatch{Status: &complete, VerifiedBy: &verifier})
	require.NoError(t, err)
}

func TestRun_AutoVotesAndReflectsOnFailure(t *testing.T) {
	repo, mem := newTestRepo(t)
	ctx := context.Background()

	m1, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "used memory one", AgentID: "agent-a"})
	require.NoError(t, err)
	m2, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "used memory two", AgentID: "agent-a"})
	require.NoError(t, err)

	run, err := repo.StartRun(ctx, "proj-1", "agent-a", "fix the bug")
	require.NoError(t, err)

	_, err = repo.CompleteRun(ctx, "proj-1", run.RunID, models.RunFailure, []string{m1.Memory.ID, m2.Memory.ID}, nil)
	require.NoError(t, err)

	got1, err := mem.Get(ctx, "proj-1", m1.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got1.HarmfulVotes)

	got2, err := mem.Get(ctx, "proj-1", m2.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got2.HarmfulVotes)
}

func TestCurate_DeprecatesLowEffectivenessAndIsIdempotentPerDay(t *testing.T) {
	repo, mem := newTestRepo(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{
		Content: "a strategy nobody likes", AgentID: "agent-a", MemoryType: models.MemoryTypeStrategy,
	})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, repo.Vote(ctx, "proj-1", added.Memory.ID, "voter", models.VoteHarmful, nil, nil))
	}

	result, err := repo.Curate(ctx, "proj-1", "2026-07-31")
	require.NoError(t, err)
	assert.False(t, result.NoOp)
	assert.Contains(t, result.Deprecated, added.Memory.ID)

	got, err := mem.Get(ctx, "proj-1", added.Memory.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeprecated)

	second, err := repo.Curate(ctx, "proj-1", "2026-07-31")
	require.NoError(t, err)
	assert.True(t, second.NoOp)
}

func strPtr(s string) *string { return &s }
