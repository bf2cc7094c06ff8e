package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/config"
	"github.com/mbolis/intelliform/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator returns its replies in order and records every prompt.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
}

type reply struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.text, r.err
}

func newTestService(t *testing.T, replies ...reply) (*Service, *scriptedGenerator) {
	t.Helper()
	gen := &scriptedGenerator{replies: replies}
	svc, err := NewService(gen, time.Second, config.Prompts{})
	require.NoError(t, err)
	return svc, gen
}

func ok(text string) reply { return reply{text: text} }

func fail(msg string) reply { return reply{err: errors.New(msg)} }

func TestDecodeStrict(t *testing.T) {
	type out struct {
		A int `json:"a"`
	}
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"plain", `{"a": 1}`, false},
		{"fenced", "```json\n{\"a\": 1}\n```", false},
		{"unknown field", `{"a": 1, "b": 2}`, true},
		{"trailing data", `{"a": 1} {"a": 2}`, true},
		{"prose around", `Sure! {"a": 1}`, true},
		{"empty", "  ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o out
			err := decodeStrict(tt.raw, &o)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, o.A)
		})
	}
}

func TestChat(t *testing.T) {
	t.Run("parses reply", func(t *testing.T) {
		svc, gen := newTestService(t, ok(`{"content": "Thanks!", "conversationFinished": true}`))
		got, err := svc.Chat(context.Background(), "it's about billing", []model.AIMessage{{Role: model.RoleSystem, Content: "What went wrong?"}})
		require.NoError(t, err)
		assert.Equal(t, ChatReply{Content: "Thanks!", ConversationFinished: true}, got)
		assert.Contains(t, gen.prompts[0], "What went wrong?")
		assert.Contains(t, gen.prompts[0], "it's about billing")
	})

	t.Run("retries once on provider failure", func(t *testing.T) {
		svc, gen := newTestService(t, fail("503"), ok(`{"content": "Go on", "conversationFinished": false}`))
		got, err := svc.Chat(context.Background(), "hi", nil)
		require.NoError(t, err)
		assert.False(t, got.ConversationFinished)
		assert.Len(t, gen.prompts, 2)
	})

	t.Run("gives up after the retry", func(t *testing.T) {
		svc, gen := newTestService(t, fail("503"), fail("503"), ok(`{"content": "late", "conversationFinished": false}`))
		_, err := svc.Chat(context.Background(), "hi", nil)
		assert.ErrorIs(t, err, apperr.ErrAIUnavailable)
		assert.Len(t, gen.prompts, 2)
	})

	t.Run("missing flag is malformed", func(t *testing.T) {
		svc, _ := newTestService(t, ok(`{"content": "hello"}`))
		_, err := svc.Chat(context.Background(), "hi", nil)
		assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
	})
}

func TestSummarize(t *testing.T) {
	svc, gen := newTestService(t, ok("  User reported a billing error.\n"))
	got, err := svc.Summarize(context.Background(), "user: my bill is wrong")
	require.NoError(t, err)
	assert.Equal(t, "User reported a billing error.", got)
	assert.Contains(t, gen.prompts[0], "user: my bill is wrong")

	svc, _ = newTestService(t, ok("   "))
	_, err = svc.Summarize(context.Background(), "x")
	assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
}

func TestExtractProblems(t *testing.T) {
	t.Run("multiple problems", func(t *testing.T) {
		svc, _ := newTestService(t, ok(`{"sentiment": "negative", "problems": [
			{"problem": "Paperwork issues during onboarding", "solutions": ["Digital forms", " "]},
			{"problem": "Office tour was skipped", "solutions": []}
		]}`))
		got, err := svc.ExtractProblems(context.Background(), "Feedback: paperwork and no office tour")
		require.NoError(t, err)
		assert.Equal(t, SentimentNegative, got.Sentiment)
		require.Len(t, got.Problems, 2)
		assert.Equal(t, []string{"Digital forms"}, got.Problems[0].Solutions)
		assert.NotEmpty(t, got.Problems[0].ID)
		assert.NotEqual(t, got.Problems[0].ID, got.Problems[1].ID)
		assert.False(t, got.Problems[1].Resolved)
	})

	t.Run("none reported", func(t *testing.T) {
		svc, _ := newTestService(t, ok(`{"sentiment": "positive", "problems": []}`))
		got, err := svc.ExtractProblems(context.Background(), "All good")
		require.NoError(t, err)
		assert.Empty(t, got.Problems)
	})

	malformed := map[string]string{
		"not json":          `I found two problems: paperwork and tour`,
		"missing problems":  `{"sentiment": "neutral"}`,
		"unknown sentiment": `{"sentiment": "angry", "problems": []}`,
		"blank problem":     `{"sentiment": "neutral", "problems": [{"problem": " ", "solutions": []}]}`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(t, ok(raw))
			got, err := svc.ExtractProblems(context.Background(), "x")
			assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
			assert.Empty(t, got.Problems)
		})
	}
}

var onboardingMentions = []model.ProblemMention{
	{Problem: "paperwork issues during onboarding", SubmissionID: "1"},
	{Problem: "paperwork issues during onboarding", SubmissionID: "2"},
	{Problem: "office tour during onboarding", SubmissionID: "2"},
}

func TestRankProblems(t *testing.T) {
	t.Run("groups are sorted and normalized", func(t *testing.T) {
		svc, gen := newTestService(t, ok(`[
			{"problem": "Office tour", "count": 1, "ids": ["2"], "solutions": ["Schedule tours"]},
			{"problem": "Paperwork", "count": 2, "ids": ["1", "2"], "solutions": ["a", "b", "c", "d"]}
		]`))
		got, err := svc.RankProblems(context.Background(), onboardingMentions)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.ProblemGroup{Problem: "Paperwork", Count: 2, IDs: []string{"1", "2"}, Solutions: []string{"a", "b", "c"}}, got[0])
		assert.Equal(t, model.ProblemGroup{Problem: "Office tour", Count: 1, IDs: []string{"2"}, Solutions: []string{"Schedule tours"}}, got[1])
		assert.True(t, strings.Contains(gen.prompts[0], `"submissionId": "2"`))
	})

	t.Run("ties break alphabetically", func(t *testing.T) {
		svc, _ := newTestService(t, ok(`[
			{"problem": "Zebra", "count": 1, "ids": ["1"], "solutions": ["x"]},
			{"problem": "Apple", "count": 1, "ids": ["2"], "solutions": ["y"]}
		]`))
		got, err := svc.RankProblems(context.Background(), onboardingMentions)
		require.NoError(t, err)
		assert.Equal(t, "Apple", got[0].Problem)
		assert.Equal(t, "Zebra", got[1].Problem)
	})

	t.Run("count mismatch is re-requested once", func(t *testing.T) {
		svc, gen := newTestService(t,
			ok(`[{"problem": "Paperwork", "count": 2, "ids": ["1", "1"], "solutions": ["x"]}]`),
			ok(`[{"problem": "Paperwork", "count": 2, "ids": ["1", "2"], "solutions": ["x"]}]`),
		)
		got, err := svc.RankProblems(context.Background(), onboardingMentions)
		require.NoError(t, err)
		assert.Equal(t, 2, got[0].Count)
		assert.Len(t, gen.prompts, 2)
	})

	t.Run("repeated violation is rejected", func(t *testing.T) {
		bad := ok(`[{"problem": "Paperwork", "count": 3, "ids": ["1", "9"], "solutions": ["x"]}]`)
		svc, gen := newTestService(t, bad, bad)
		_, err := svc.RankProblems(context.Background(), onboardingMentions)
		assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
		assert.Len(t, gen.prompts, 2)
	})

	t.Run("provider failure is not a violation", func(t *testing.T) {
		svc, _ := newTestService(t, fail("down"), fail("down"))
		_, err := svc.RankProblems(context.Background(), onboardingMentions)
		assert.ErrorIs(t, err, apperr.ErrAIUnavailable)
	})

	t.Run("nothing to rank skips the provider", func(t *testing.T) {
		svc, gen := newTestService(t)
		got, err := svc.RankProblems(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Empty(t, gen.prompts)
	})
}

func TestCustomPrompt(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{ok("Short.")}}
	svc, err := NewService(gen, 0, config.Prompts{Summarize: "SUM {{.Transcript}}"})
	require.NoError(t, err)

	_, err = svc.Summarize(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "SUM abc", gen.prompts[0])

	_, err = NewService(gen, 0, config.Prompts{Rank: "{{.Broken"})
	assert.Error(t, err)
}

func TestRequestBudget(t *testing.T) {
	t.Run("finishing chat turn", func(t *testing.T) {
		svc, gen := newTestService(t,
			fail("503"), ok(`{"content": "Thanks", "conversationFinished": true}`),
			fail("503"), ok("Billing is wrong."),
		)
		_, err := svc.Chat(context.Background(), "my bill", nil)
		require.NoError(t, err)
		_, err = svc.Summarize(context.Background(), "user: my bill")
		require.NoError(t, err)
		assert.Len(t, gen.prompts, callsPerRequest)
	})

	t.Run("rejected ranking", func(t *testing.T) {
		svc, gen := newTestService(t, fail("503"), ok("nope"), fail("503"), ok("nope"), ok("[]"))
		_, err := svc.RankProblems(context.Background(), onboardingMentions)
		assert.ErrorIs(t, err, apperr.ErrMalformedAIOutput)
		assert.Len(t, gen.prompts, callsPerRequest)
	})

	assert.GreaterOrEqual(t, RequestBudget(30*time.Second), callsPerRequest*30*time.Second)
	assert.Equal(t, 4*(30*time.Second+retryInterval), RequestBudget(30*time.Second))
}
