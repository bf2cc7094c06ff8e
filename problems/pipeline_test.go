package problems

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mbolis/intelliform/ai"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/config"
	"github.com/mbolis/intelliform/database"
	"github.com/mbolis/intelliform/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	extract  func(text string) (ai.Extraction, error)
	texts    []string
	mentions []model.ProblemMention
	groups   []model.ProblemGroup
}

func (f *fakeAnalyzer) ExtractProblems(ctx context.Context, text string) (ai.Extraction, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return f.extract(text)
}

func (f *fakeAnalyzer) RankProblems(ctx context.Context, mentions []model.ProblemMention) ([]model.ProblemGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mentions = mentions
	return f.groups, nil
}

func slowLoading(string) (ai.Extraction, error) {
	return ai.Extraction{
		Sentiment: ai.SentimentNegative,
		Problems: []model.Problem{
			{ID: uuid.NewString(), Problem: "Slow loading", Solutions: []string{"Add caching"}},
		},
	}, nil
}

var ctx = context.Background()

func testForm() model.Form {
	return model.Form{
		Title: "Feedback",
		Fields: []model.FormField{
			{ID: "name", Type: model.FieldText, Label: "Name"},
			{ID: "secret", Type: model.FieldPassword, Label: "Secret"},
			{ID: "issues", Type: model.FieldTextarea, Label: "Issues"},
			{ID: "areas", Type: model.FieldCheckbox, Label: "Areas", Options: []string{"ui", "api"}},
		},
	}
}

func setup(t *testing.T, analyzer Analyzer) (*Pipeline, *database.Store, int) {
	t.Helper()
	db, err := database.Open(config.Config{DBUrl: filepath.Join(t.TempDir(), "test.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := database.NewStore(db)
	require.NoError(t, store.CreateUser(ctx, "alice", "secret"))
	require.NoError(t, store.CreateUser(ctx, "bob", "secret"))

	formID, err := store.CreateForm(ctx, "alice", testForm())
	require.NoError(t, err)
	return NewPipeline(store, analyzer, 2), store, formID
}

func submit(t *testing.T, store *database.Store, formID int, issues string) int {
	t.Helper()
	id, err := store.CreateSubmission(ctx, model.Submission{
		FormID: formID,
		Data: map[string]any{
			"name":   "Ann",
			"secret": "hunter2",
			"issues": issues,
			"areas":  []any{"ui", "api"},
		},
	})
	require.NoError(t, err)
	return id
}

func TestSubmissionText(t *testing.T) {
	sub := model.Submission{Data: map[string]any{
		"name":   "Ann",
		"secret": "hunter2",
		"issues": "Pages load slowly",
		"areas":  []any{"ui", "api"},
	}}

	text := SubmissionText(testForm(), sub)
	assert.Equal(t, "Name: Ann\nIssues: Pages load slowly\nAreas: ui, api\n", text)
	assert.NotContains(t, text, "hunter2")
}

func TestExtractSubmission(t *testing.T) {
	analyzer := &fakeAnalyzer{extract: slowLoading}
	p, store, formID := setup(t, analyzer)
	id := submit(t, store, formID, "Pages load slowly")

	got, err := p.ExtractSubmission(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "negative", got.Sentiment)
	require.Len(t, got.Problems, 1)
	assert.Equal(t, "Slow loading", got.Problems[0].Problem)
	assert.False(t, got.Problems[0].Resolved)
	require.Len(t, analyzer.texts, 1)
	assert.Contains(t, analyzer.texts[0], "Issues: Pages load slowly")

	_, err = p.ExtractSubmission(ctx, "bob", id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExtractSubmissionFailurePersistsNothing(t *testing.T) {
	first := true
	analyzer := &fakeAnalyzer{extract: func(text string) (ai.Extraction, error) {
		if first {
			first = false
			return slowLoading(text)
		}
		return ai.Extraction{}, apperr.NewAIUnavailable("ai.extract", errors.New("provider down"))
	}}
	p, store, formID := setup(t, analyzer)
	id := submit(t, store, formID, "Pages load slowly")

	_, err := p.ExtractSubmission(ctx, "alice", id)
	require.NoError(t, err)

	_, err = p.ExtractSubmission(ctx, "alice", id)
	assert.ErrorIs(t, err, apperr.ErrAIUnavailable)

	got, err := store.GetSubmission(ctx, "alice", id)
	require.NoError(t, err)
	require.Len(t, got.Problems, 1)
	assert.Equal(t, "Slow loading", got.Problems[0].Problem)
}

func TestExtractForm(t *testing.T) {
	analyzer := &fakeAnalyzer{extract: func(text string) (ai.Extraction, error) {
		if strings.Contains(text, "broken") {
			return ai.Extraction{}, apperr.NewMalformedAIOutput("ai.extract", errors.New("not json"))
		}
		return slowLoading(text)
	}}
	p, store, formID := setup(t, analyzer)
	for i := 0; i < 4; i++ {
		submit(t, store, formID, "slow "+strconv.Itoa(i))
	}
	broken := submit(t, store, formID, "broken")

	result, err := p.ExtractForm(ctx, "alice", formID)
	assert.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
	assert.Equal(t, BatchResult{Processed: 4, Failed: 1}, result)

	got, err := store.GetSubmission(ctx, "alice", broken)
	require.NoError(t, err)
	assert.Empty(t, got.Problems)

	// analyzed submissions are not picked up again
	analyzer.texts = nil
	result, err = p.ExtractForm(ctx, "alice", formID)
	assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
	assert.Equal(t, BatchResult{Processed: 0, Failed: 1}, result)
	assert.Len(t, analyzer.texts, 1)

	_, err = p.ExtractForm(ctx, "bob", formID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestScheduleExtractsInBackground(t *testing.T) {
	analyzer := &fakeAnalyzer{extract: slowLoading}
	p, store, formID := setup(t, analyzer)
	id := submit(t, store, formID, "Pages load slowly")

	p.Schedule("alice", id)
	p.Wait()

	got, err := store.GetSubmission(ctx, "alice", id)
	require.NoError(t, err)
	assert.Len(t, got.Problems, 1)
}

func TestGroups(t *testing.T) {
	analyzer := &fakeAnalyzer{
		extract: slowLoading,
		groups: []model.ProblemGroup{
			{Problem: "Slow loading", Count: 2, Solutions: []string{"Add caching"}},
		},
	}
	p, store, formID := setup(t, analyzer)
	a := submit(t, store, formID, "a")
	b := submit(t, store, formID, "b")
	_, err := p.ExtractForm(ctx, "alice", formID)
	require.NoError(t, err)

	groups, err := p.Groups(ctx, "alice", formID, false)
	require.NoError(t, err)
	assert.Equal(t, analyzer.groups, groups)
	assert.ElementsMatch(t, []model.ProblemMention{
		{Problem: "Slow loading", SubmissionID: strconv.Itoa(a)},
		{Problem: "Slow loading", SubmissionID: strconv.Itoa(b)},
	}, analyzer.mentions)

	_, err = p.Groups(ctx, "bob", formID, false)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// resolved problems drop out of the default ranking input
	_, err = p.ResolveGroup(ctx, "alice", "slow loading", []string{strconv.Itoa(a)}, "cached")
	require.NoError(t, err)
	_, err = p.Groups(ctx, "alice", 0, false)
	require.NoError(t, err)
	assert.Equal(t, []model.ProblemMention{{Problem: "Slow loading", SubmissionID: strconv.Itoa(b)}}, analyzer.mentions)

	_, err = p.Groups(ctx, "alice", 0, true)
	require.NoError(t, err)
	assert.Len(t, analyzer.mentions, 2)
}

func TestResolveProblem(t *testing.T) {
	p, store, formID := setup(t, &fakeAnalyzer{extract: slowLoading})
	id := submit(t, store, formID, "x")
	sub, err := p.ExtractSubmission(ctx, "alice", id)
	require.NoError(t, err)
	pid := sub.Problems[0].ID

	err = p.ResolveProblem(ctx, "alice", id, pid, true, "   ")
	assert.ErrorIs(t, err, apperr.ErrResolutionPrecondition)

	require.NoError(t, p.ResolveProblem(ctx, "alice", id, pid, true, "Added a CDN"))
	got, err := store.GetSubmission(ctx, "alice", id)
	require.NoError(t, err)
	assert.True(t, got.Problems[0].Resolved)
	assert.Equal(t, "Added a CDN", got.Problems[0].ResolutionComment)

	require.NoError(t, p.ResolveProblem(ctx, "alice", id, pid, false, ""))
	got, err = store.GetSubmission(ctx, "alice", id)
	require.NoError(t, err)
	assert.False(t, got.Problems[0].Resolved)

	err = p.ResolveProblem(ctx, "alice", id, "missing", false, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestExtractSubmissionKeepsResolvedProblems(t *testing.T) {
	analyzer := &fakeAnalyzer{extract: slowLoading}
	p, store, formID := setup(t, analyzer)
	id := submit(t, store, formID, "Pages load slowly")

	sub, err := p.ExtractSubmission(ctx, "alice", id)
	require.NoError(t, err)
	pid := sub.Problems[0].ID
	require.NoError(t, p.ResolveProblem(ctx, "alice", id, pid, true, "Added a CDN"))

	_, err = p.ExtractSubmission(ctx, "alice", id)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, analyzer.texts, 1)

	got, err := store.GetSubmission(ctx, "alice", id)
	require.NoError(t, err)
	require.Len(t, got.Problems, 1)
	assert.Equal(t, pid, got.Problems[0].ID)
	assert.Equal(t, "Added a CDN", got.Problems[0].ResolutionComment)
}

func TestResolveGroup(t *testing.T) {
	p, store, formID := setup(t, &fakeAnalyzer{extract: slowLoading})
	a := submit(t, store, formID, "a")
	b := submit(t, store, formID, "b")
	_, err := p.ExtractForm(ctx, "alice", formID)
	require.NoError(t, err)
	ids := []string{strconv.Itoa(a), strconv.Itoa(b)}

	n, err := p.ResolveGroup(ctx, "alice", "Slow loading", ids, "")
	assert.ErrorIs(t, err, apperr.ErrResolutionPrecondition)
	assert.Zero(t, n)

	_, err = p.ResolveGroup(ctx, "alice", "Slow loading", []string{"abc"}, "done")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	n, err = p.ResolveGroup(ctx, "alice", "Slow loading", ids, "Added caching")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []int{a, b} {
		got, err := store.GetSubmission(ctx, "alice", id)
		require.NoError(t, err)
		assert.True(t, got.Problems[0].Resolved)
		assert.Equal(t, "Added caching", got.Problems[0].ResolutionComment)
	}

	n, err = p.ResolveGroup(ctx, "alice", "Slow loading", ids, "again")
	require.NoError(t, err)
	assert.Zero(t, n)
}
