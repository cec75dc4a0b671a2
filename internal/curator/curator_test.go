package curator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxtone-io/openkodo/internal/extract"
	"github.com/paxtone-io/openkodo/internal/state"
	"github.com/paxtone-io/openkodo/internal/store"
)

type fakeIndexer struct {
	updates []string
	err     error
}

func (f *fakeIndexer) Update(_ context.Context, id string) error {
	f.updates = append(f.updates, id)
	return f.err
}

type testEnv struct {
	curator *Curator
	records *store.Store
	states  *state.DB
	indexer *fakeIndexer
	now     *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	_, err := store.Init(dir)
	require.NoError(t, err)

	now := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	records, err := store.Open(filepath.Join(dir, store.DirName), store.WithClock(clock))
	require.NoError(t, err)

	states, err := state.Open(records.Layout().StateDB(), state.WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = states.Close() })

	indexer := &fakeIndexer{}
	cur, err := New(Options{
		Records: records,
		States:  states,
		Indexer: indexer,
		Clock:   clock,
	})
	require.NoError(t, err)

	return &testEnv{curator: cur, records: records, states: states, indexer: indexer, now: &now}
}

func (e *testEnv) advance(d time.Duration) {
	*e.now = e.now.Add(d)
}

func candidate(category store.Category, statement string, signal extract.Signal, eventID string) extract.Candidate {
	return extract.Candidate{
		Category:  category,
		Statement: statement,
		Signal:    signal,
		Pattern:   "test_rule",
		Evidence: store.EvidenceRef{
			SessionID: "sess-1",
			EventID:   eventID,
			Branch:    "main",
			Excerpt:   statement,
		},
	}
}

func TestNewRequiresStores(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	env := newTestEnv(t)
	_, err = New(Options{Records: env.records})
	require.Error(t, err)
}

func TestIngestCreatesPendingLearning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "Never commit directly to main", extract.SignalCorrective, "u1"),
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Empty(t, res.Merged)
	assert.Zero(t, res.Skipped)

	rec := res.Created[0]
	assert.Equal(t, store.StatusPending, rec.Status)
	assert.Equal(t, store.ConfidenceHigh, rec.Confidence)
	assert.NotEmpty(t, rec.Fingerprint)

	got, err := env.records.GetLearning(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got.Evidence, 1)
	assert.Equal(t, "sess-1", got.Evidence[0].SessionID)
	assert.Equal(t, "u1", got.Evidence[0].EventID)

	transitions, err := env.states.ListTransitions(ctx, rec.ID, 10)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, "", transitions[0].FromState)
	assert.Equal(t, "pending(high)", transitions[0].ToState)
}

func TestIngestMergesNearDuplicatesWithinBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryConvention, "Always use table-driven tests for parsers", extract.SignalConfirmed, "u1"),
		candidate(store.CategoryConvention, "always use table-driven tests for parsers!", extract.SignalConfirmed, "u2"),
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	require.Len(t, res.Merged, 1)
	assert.Equal(t, res.Created[0].ID, res.Merged[0].ID)

	got, err := env.records.GetLearning(ctx, res.Created[0].ID)
	require.NoError(t, err)
	require.Len(t, got.Evidence, 2)
	assert.Equal(t, "u1", got.Evidence[0].EventID)
	assert.Equal(t, "u2", got.Evidence[1].EventID)
}

func TestIngestMergesByTokenOverlapAcrossBatches(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryConvention, "Always use table-driven tests for parsers", extract.SignalConfirmed, "u1"),
	})
	require.NoError(t, err)
	require.Len(t, first.Created, 1)
	created := first.Created[0].LastConfirmedAt

	env.advance(2 * time.Hour)

	// Different wording, same meaning: no fingerprint match, merges on
	// token overlap.
	second, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryConvention, "Always use table-driven tests when building parsers", extract.SignalConfirmed, "u2"),
	})
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	require.Len(t, second.Merged, 1)

	got, err := env.records.GetLearning(ctx, first.Created[0].ID)
	require.NoError(t, err)
	require.Len(t, got.Evidence, 2)
	assert.True(t, got.LastConfirmedAt.After(created))
}

func TestIngestSameEventCountedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cand := candidate(store.CategoryWorkflow, "Run make lint before every push", extract.SignalConfirmed, "u1")
	res, err := env.curator.Ingest(ctx, []extract.Candidate{cand, cand})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	require.Len(t, res.Merged, 1)

	got, err := env.records.GetLearning(ctx, res.Created[0].ID)
	require.NoError(t, err)
	assert.Len(t, got.Evidence, 1)
}

func TestIngestContradictionArchivesActiveRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	seeded, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "Always rebase feature branches before merging", extract.SignalConfirmed, "u1"),
	})
	require.NoError(t, err)
	old := seeded.Created[0]
	_, err = env.curator.Review(ctx, old.ID, true)
	require.NoError(t, err)

	env.advance(time.Hour)
	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "Never rebase feature branches before merging", extract.SignalCorrective, "u2"),
	})
	require.NoError(t, err)
	require.Len(t, res.Contradicted, 1)
	assert.Equal(t, old.ID, res.Contradicted[0].ID)
	require.Len(t, res.Created, 1)
	assert.NotEqual(t, old.ID, res.Created[0].ID)

	gotOld, err := env.records.GetLearning(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, gotOld.Status)

	gotNew, err := env.records.GetLearning(ctx, res.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, gotNew.Status)
	assert.Equal(t, store.ConfidenceHigh, gotNew.Confidence)

	transitions, err := env.states.ListTransitions(ctx, old.ID, 10)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, "active(medium)", transitions[2].FromState)
	assert.Equal(t, "archived", transitions[2].ToState)
}

func TestIngestOppositePendingRuleNotMerged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The old rule is still pending, so contradiction does not archive
	// it, and near-total token overlap must not merge the negation in.
	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "Always rebase feature branches before merging", extract.SignalConfirmed, "u1"),
		candidate(store.CategoryRule, "Never rebase feature branches before merging", extract.SignalCorrective, "u2"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Contradicted)
	assert.Empty(t, res.Merged)
	require.Len(t, res.Created, 2)
}

func TestPromoteStepsAndStopsAtHigh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryDecision, "Maybe we should use feature flags for rollouts", extract.SignalSpeculative, "u1"),
	})
	require.NoError(t, err)
	id := res.Created[0].ID
	assert.Equal(t, store.ConfidenceLow, res.Created[0].Confidence)

	rec, err := env.curator.Promote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.ConfidenceMedium, rec.Confidence)

	rec, err = env.curator.Promote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.ConfidenceHigh, rec.Confidence)

	// Idempotent at high: no change, no new audit row.
	rec, err = env.curator.Promote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.ConfidenceHigh, rec.Confidence)

	transitions, err := env.states.ListTransitions(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, transitions, 3)
}

func TestDemoteBelowLowArchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryTechStack, "The project uses pure-Go sqlite for state", extract.SignalConfirmed, "u1"),
	})
	require.NoError(t, err)
	id := res.Created[0].ID

	rec, err := env.curator.Demote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.ConfidenceLow, rec.Confidence)
	assert.Equal(t, store.StatusPending, rec.Status)

	rec, err = env.curator.Demote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, rec.Status)

	_, err = env.curator.Demote(ctx, id)
	assert.ErrorIs(t, err, ErrArchived)
	_, err = env.curator.Promote(ctx, id)
	assert.ErrorIs(t, err, ErrArchived)
}

func TestReviewAcceptActivates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "Never log request bodies", extract.SignalCorrective, "u1"),
	})
	require.NoError(t, err)
	id := res.Created[0].ID

	rec, err := env.curator.Review(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, rec.Status)

	_, err = env.curator.Review(ctx, id, true)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestReviewRejectArchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryDomain, "A capsule means one sealed learning file", extract.SignalConfirmed, "u1"),
	})
	require.NoError(t, err)
	id := res.Created[0].ID

	rec, err := env.curator.Review(ctx, id, false)
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, rec.Status)

	transitions, err := env.states.ListTransitions(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "pending(medium)", transitions[1].FromState)
	assert.Equal(t, "archived", transitions[1].ToState)
}

func TestArchiveIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryWorkflow, "Deploy from the release branch only", extract.SignalConfirmed, "u1"),
	})
	require.NoError(t, err)
	id := res.Created[0].ID

	rec, err := env.curator.Archive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusArchived, rec.Status)

	_, err = env.curator.Archive(ctx, id)
	require.NoError(t, err)

	transitions, err := env.states.ListTransitions(ctx, id, 10)
	require.NoError(t, err)
	assert.Len(t, transitions, 2)
}

func TestTransitionsOnMissingRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.curator.Promote(ctx, uuid.New().String())
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	_, err = env.curator.Review(ctx, uuid.New().String(), true)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func TestIngestSkipsMalformedCandidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "", extract.SignalCorrective, "u1"),
		candidate(store.CategoryRule, "Never store secrets in env files", extract.SignalCorrective, "u2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Created, 1)
}

func TestIndexerNotifiedAndFailureTolerated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.indexer.err = errors.New("index unavailable")

	res, err := env.curator.Ingest(ctx, []extract.Candidate{
		candidate(store.CategoryRule, "Never push directly to main", extract.SignalCorrective, "u1"),
	})
	require.NoError(t, err)
	id := res.Created[0].ID
	assert.Contains(t, env.indexer.updates, id)

	_, err = env.curator.Promote(ctx, id)
	require.NoError(t, err)
	assert.Len(t, env.indexer.updates, 2)
}
