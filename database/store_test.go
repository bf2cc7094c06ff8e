package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/config"
	"github.com/mbolis/intelliform/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(config.Config{DBUrl: filepath.Join(t.TempDir(), "test.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.CreateUser(context.Background(), "alice", "secret"))
	require.NoError(t, store.CreateUser(context.Background(), "bob", "secret"))
	return store
}

func sampleForm() model.Form {
	return model.Form{
		Title: "Onboarding feedback",
		Fields: []model.FormField{
			{ID: "name", Type: model.FieldText, Label: "Name", Required: true},
			{ID: "happy", Type: model.FieldRadio, Label: "Happy?", Options: []string{"yes", "no"}},
			{
				ID: "why", Type: model.FieldTextarea, Label: "Why not?", AIEnabled: true,
				Conditional: &model.ConditionalLogic{ShowIf: model.Condition{FieldID: "happy", Operator: model.OpEquals, Value: "no"}},
				Validation:  []model.ValidationRule{{Type: model.RuleMin, Value: float64(3), Message: "too short"}},
			},
		},
		Settings: model.FormSettings{Conversational: true},
	}
}

func createSubmissionWithProblems(t *testing.T, store *Store, formID int, problems ...string) int {
	t.Helper()
	ctx := context.Background()
	id, err := store.CreateSubmission(ctx, model.Submission{FormID: formID, Data: map[string]any{"name": "Ann"}})
	require.NoError(t, err)

	ps := make([]model.Problem, len(problems))
	for i, p := range problems {
		ps[i] = model.Problem{ID: fmt.Sprintf("p-%d-%d", id, i), Problem: p, Solutions: []string{"fix it"}}
	}
	require.NoError(t, store.SetSubmissionProblems(ctx, id, "negative", ps))
	return id
}

func TestUsers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, apperr.ErrConflict)

	assert.NoError(t, store.CheckPassword(ctx, "alice", "secret"))
	assert.ErrorIs(t, store.CheckPassword(ctx, "alice", "wrong"), apperr.ErrUnauthorized)
	assert.ErrorIs(t, store.CheckPassword(ctx, "nobody", "secret"), apperr.ErrUnauthorized)
}

func TestFormRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.CreateForm(ctx, "alice", sampleForm())
	require.NoError(t, err)

	form, err := store.GetOwnedForm(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, 1, form.Version)
	require.Len(t, form.Fields, 3)
	assert.Equal(t, []string{"name", "happy", "why"}, []string{form.Fields[0].ID, form.Fields[1].ID, form.Fields[2].ID})
	assert.True(t, form.Fields[2].AIAssisted())
	assert.Equal(t, "happy", form.Fields[2].Conditional.ShowIf.FieldID)
	assert.Equal(t, "too short", form.Fields[2].Validation[0].Message)
	assert.True(t, form.Settings.Conversational)

	_, err = store.GetOwnedForm(ctx, "bob", id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = store.GetPublishedForm(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, store.SetPublished(ctx, "alice", id, true))
	_, err = store.GetPublishedForm(ctx, id)
	assert.NoError(t, err)

	forms, err := store.ListForms(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, forms, 1)
}

func TestUpdateFormOptimisticLock(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.CreateForm(ctx, "alice", sampleForm())
	require.NoError(t, err)

	form, err := store.GetForm(ctx, id)
	require.NoError(t, err)
	form.Title = "Renamed"
	form.Fields = form.Fields[:1]
	require.NoError(t, store.UpdateForm(ctx, "alice", form))

	// same stale version again
	err = store.UpdateForm(ctx, "alice", form)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	updated, err := store.GetForm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 2, updated.Version)
	assert.Len(t, updated.Fields, 1)

	assert.ErrorIs(t, store.DeleteForm(ctx, "bob", id), apperr.ErrNotFound)
	assert.NoError(t, store.DeleteForm(ctx, "alice", id))
	_, err = store.GetForm(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSubmissionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	formID, err := store.CreateForm(ctx, "alice", sampleForm())
	require.NoError(t, err)

	taken := 42
	subID, err := store.CreateSubmission(ctx, model.Submission{
		FormID:    formID,
		Data:      map[string]any{"name": "Ann", "happy": "no", "why": "User reported a billing error."},
		TimeTaken: &taken,
		IPAddress: "10.0.0.1",
		AIConversations: []model.AIConversation{{
			ID:      "conv-1",
			FieldID: "why",
			Messages: []model.AIMessage{
				{Role: model.RoleSystem, Content: "Why not?"},
				{Role: model.RoleUser, Content: "billing is wrong"},
			},
		}},
	})
	require.NoError(t, err)

	sub, err := store.GetSubmission(ctx, "alice", subID)
	require.NoError(t, err)
	assert.Equal(t, "User reported a billing error.", sub.Data["why"])
	assert.Equal(t, 42, *sub.TimeTaken)
	require.Len(t, sub.AIConversations, 1)
	assert.Equal(t, "Why not?", sub.AIConversations[0].Messages[0].Content)
	assert.Empty(t, sub.Problems)

	_, err = store.GetSubmission(ctx, "bob", subID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	found, err := store.HasSubmissionFromIP(ctx, formID, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = store.HasSubmissionFromIP(ctx, formID, "10.0.0.2")
	require.NoError(t, err)
	assert.False(t, found)

	pending, err := store.UnanalyzedSubmissions(ctx, formID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestUpdateSubmissionProblem(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	formID, err := store.CreateForm(ctx, "alice", sampleForm())
	require.NoError(t, err)
	subID := createSubmissionWithProblems(t, store, formID, "Billing error")

	sub, err := store.GetSubmission(ctx, "alice", subID)
	require.NoError(t, err)
	require.Len(t, sub.Problems, 1)
	problemID := sub.Problems[0].ID

	t.Run("resolving without a comment is rejected and nothing changes", func(t *testing.T) {
		err := store.UpdateSubmissionProblem(ctx, "alice", subID, problemID, true, "   ")
		assert.ErrorIs(t, err, apperr.ErrResolutionPrecondition)

		sub, err := store.GetSubmission(ctx, "alice", subID)
		require.NoError(t, err)
		assert.False(t, sub.Problems[0].Resolved)
		assert.Empty(t, sub.Problems[0].ResolutionComment)
	})

	t.Run("resolve then unresolve keeps the comment", func(t *testing.T) {
		require.NoError(t, store.UpdateSubmissionProblem(ctx, "alice", subID, problemID, true, "refunded"))
		sub, err := store.GetSubmission(ctx, "alice", subID)
		require.NoError(t, err)
		assert.True(t, sub.Problems[0].Resolved)
		assert.Equal(t, "refunded", sub.Problems[0].ResolutionComment)

		require.NoError(t, store.UpdateSubmissionProblem(ctx, "alice", subID, problemID, false, ""))
		sub, err = store.GetSubmission(ctx, "alice", subID)
		require.NoError(t, err)
		assert.False(t, sub.Problems[0].Resolved)
		assert.Equal(t, "refunded", sub.Problems[0].ResolutionComment)
	})

	t.Run("other owners cannot touch it", func(t *testing.T) {
		err := store.UpdateSubmissionProblem(ctx, "bob", subID, problemID, true, "x")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

func TestSetSubmissionProblemsKeepsResolved(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	formID, err := store.CreateForm(ctx, "alice", sampleForm())
	require.NoError(t, err)
	subID := createSubmissionWithProblems(t, store, formID, "Billing error", "Slow pages")

	sub, err := store.GetSubmission(ctx, "alice", subID)
	require.NoError(t, err)
	billing := sub.Problems[0].ID
	require.NoError(t, store.UpdateSubmissionProblem(ctx, "alice", subID, billing, true, "refunded"))

	again := []model.Problem{{ID: "fresh", Problem: "Something else", Solutions: []string{"x"}}}
	err = store.SetSubmissionProblems(ctx, subID, "neutral", again)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	sub, err = store.GetSubmission(ctx, "alice", subID)
	require.NoError(t, err)
	require.Len(t, sub.Problems, 2)
	assert.Equal(t, billing, sub.Problems[0].ID)
	assert.True(t, sub.Problems[0].Resolved)
	assert.Equal(t, "refunded", sub.Problems[0].ResolutionComment)
	assert.Equal(t, "negative", sub.Sentiment)

	require.NoError(t, store.UpdateSubmissionProblem(ctx, "alice", subID, billing, false, ""))
	require.NoError(t, store.SetSubmissionProblems(ctx, subID, "neutral", again))
	sub, err = store.GetSubmission(ctx, "alice", subID)
	require.NoError(t, err)
	require.Len(t, sub.Problems, 1)
	assert.Equal(t, "fresh", sub.Problems[0].ID)
}

func TestResolveGroupedProblem(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	formID, err := store.CreateForm(ctx, "alice", sampleForm())
	require.NoError(t, err)
	a := createSubmissionWithProblems(t, store, formID, "Paperwork issues", "Office tour")
	b := createSubmissionWithProblems(t, store, formID, "paperwork issues ")
	c := createSubmissionWithProblems(t, store, formID, "Office tour")

	_, err = store.ResolveGroupedProblem(ctx, "alice", "Paperwork issues", []int{a, b}, "")
	assert.ErrorIs(t, err, apperr.ErrResolutionPrecondition)

	n, err := store.ResolveGroupedProblem(ctx, "alice", "Paperwork issues", []int{a, b, c, a}, "new checklist")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	subC, err := store.GetSubmission(ctx, "alice", c)
	require.NoError(t, err)
	assert.False(t, subC.Problems[0].Resolved)

	subA, err := store.GetSubmission(ctx, "alice", a)
	require.NoError(t, err)
	assert.True(t, subA.Problems[0].Resolved)
	assert.Equal(t, "new checklist", subA.Problems[0].ResolutionComment)
	assert.False(t, subA.Problems[1].Resolved)

	// already resolved entries no longer count
	n, err = store.ResolveGroupedProblem(ctx, "alice", "Paperwork issues", []int{a, b}, "again")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mentions, err := store.ListProblemMentions(ctx, "alice", formID, false)
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
	all, err := store.ListProblemMentions(ctx, "alice", 0, true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
	none, err := store.ListProblemMentions(ctx, "bob", 0, true)
	require.NoError(t, err)
	assert.Empty(t, none)
}
