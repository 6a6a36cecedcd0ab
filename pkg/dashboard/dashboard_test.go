package dashboard

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

	"github.com/aegislabs/aegis-memory/pkg/ace"
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

func newTestFixture(t *testing.T) (*Repository, *memory.Repository, *ace.Repository) {
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
	aceRepo := ace.New(client.DB(), memRepo, svc)
	return New(client.DB()), memRepo, aceRepo
}

func TestTopMemoriesByEffectiveness_OrdersByScore(t *testing.T) {
	repo, mem, aceRepo := newTestFixture(t)
	ctx := context.Background()

	good, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "well-liked memory", AgentID: "agent-a"})
	require.NoError(t, err)
	bad, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "poorly-liked memory", AgentID: "agent-a"})
	require.NoError(t, err)

	require.NoError(t, aceRepo.Vote(ctx, "proj-1", good.Memory.ID, "agent-b", models.VoteHelpful, nil, nil))
	require.NoError(t, aceRepo.Vote(ctx, "proj-1", good.Memory.ID, "agent-c", models.VoteHelpful, nil, nil))
	require.NoError(t, aceRepo.Vote(ctx, "proj-1", bad.Memory.ID, "agent-b", models.VoteHarmful, nil, nil))

	top, err := repo.TopMemoriesByEffectiveness(ctx, "proj-1", 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, good.Memory.ID, top[0].MemoryID)
	assert.Equal(t, bad.Memory.ID, top[1].MemoryID)
	assert.Greater(t, top[0].Effectiveness, top[1].Effectiveness)
}

func TestEventCountsByBucket_GroupsByTypeAndWindow(t *testing.T) {
	repo, mem, aceRepo := newTestFixture(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "tracked memory", AgentID: "agent-a"})
	require.NoError(t, err)
	require.NoError(t, aceRepo.Vote(ctx, "proj-1", added.Memory.ID, "agent-b", models.VoteHelpful, nil, nil))

	since := time.Now().Add(-time.Hour)
	until := time.Now().Add(time.Hour)
	counts, err := repo.EventCountsByBucket(ctx, "proj-1", since, until, 3600)
	require.NoError(t, err)

	var sawCreated, sawVoted bool
	for _, c := range counts {
		switch c.EventType {
		case models.EventCreated:
			sawCreated = true
			assert.Equal(t, int64(1), c.Count)
		case models.EventVotedHelpful:
			sawVoted = true
			assert.Equal(t, int64(1), c.Count)
		}
	}
	assert.True(t, sawCreated)
	assert.True(t, sawVoted)
}

func TestEffectivenessSuccessCorrelation_InsufficientDataBelowThreshold(t *testing.T) {
	repo, mem, aceRepo := newTestFixture(t)
	ctx := context.Background()

	added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "lightly used memory", AgentID: "agent-a"})
	require.NoError(t, err)

	run, err := aceRepo.StartRun(ctx, "proj-1", "agent-a", "task one")
	require.NoError(t, err)
	_, err = aceRepo.CompleteRun(ctx, "proj-1", run.RunID, models.RunSuccess, []string{added.Memory.ID}, nil)
	require.NoError(t, err)

	result, err := repo.EffectivenessSuccessCorrelation(ctx, "proj-1")
	require.NoError(t, err)
	assert.True(t, result.InsufficientData)
	assert.Equal(t, 1, result.SampleSize)
}

func TestEffectivenessSuccessCorrelation_ComputesCoefficientAboveThreshold(t *testing.T) {
	repo, mem, aceRepo := newTestFixture(t)
	ctx := context.Background()

	var goodIDs, badIDs []string
	for i := 0; i < 6; i++ {
		added, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "good memory variant", AgentID: "agent-a", SequenceNumber: seqPtr(int64(i))})
		require.NoError(t, err)
		require.NoError(t, aceRepo.Vote(ctx, "proj-1", added.Memory.ID, "agent-b", models.VoteHelpful, nil, nil))
		goodIDs = append(goodIDs, added.Memory.ID)

		added2, err := mem.Add(ctx, "proj-1", models.AddInput{Content: "bad memory variant", AgentID: "agent-a", SequenceNumber: seqPtr(int64(100 + i))})
		require.NoError(t, err)
		require.NoError(t, aceRepo.Vote(ctx, "proj-1", added2.Memory.ID, "agent-b", models.VoteHarmful, nil, nil))
		badIDs = append(badIDs, added2.Memory.ID)
	}

	for _, id := range goodIDs {
		run, err := aceRepo.StartRun(ctx, "proj-1", "agent-a", "task")
		require.NoError(t, err)
		_, err = aceRepo.CompleteRun(ctx, "proj-1", run.RunID, models.RunSuccess, []string{id}, nil)
		require.NoError(t, err)
	}
	for _, id := range badIDs {
		run, err := aceRepo.StartRun(ctx, "proj-1", "agent-a", "task")
		require.NoError(t, err)
		errPattern := "broke"
		_, err = aceRepo.CompleteRun(ctx, "proj-1", run.RunID, models.RunFailure, []string{id}, &errPattern)
		require.NoError(t, err)
	}

	result, err := repo.EffectivenessSuccessCorrelation(ctx, "proj-1")
	require.NoError(t, err)
	require.False(t, result.InsufficientData)
	assert.Equal(t, 12, result.SampleSize)
	assert.Greater(t, result.Coefficient, 0.0)
}

func seqPtr(v int64) *int64 { return &v }
