package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/backoff/v2"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/config"
	"github.com/mbolis/intelliform/log"
	"github.com/mbolis/intelliform/model"
)

// Service implements the four AI capabilities on top of a Generator. Every
// call gets its own timeout and is retried once on a provider failure.
type Service struct {
	gen     Generator
	timeout time.Duration
	retry   backoff.Policy
	prompts prompts
}

func NewService(gen Generator, timeout time.Duration, override config.Prompts) (*Service, error) {
	p, err := parsePrompts(override)
	if err != nil {
		return nil, err
	}
	return &Service{gen: gen, timeout: timeout, retry: retryPolicy(), prompts: p}, nil
}

type ChatReply struct {
	Content              string `json:"content"`
	ConversationFinished bool   `json:"conversationFinished"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type Extraction struct {
	Sentiment Sentiment
	Problems  []model.Problem
}

const (
	attempts      = 2
	retryInterval = 200 * time.Millisecond

	// A chat turn that ends the sub-conversation is followed by its summary,
	// and a rejected ranking is requested again. Either way two operations,
	// each retried.
	callsPerRequest = 2 * attempts
)

// RequestBudget is the longest a single request can wait on the provider when
// every call runs into the per-call timeout.
func RequestBudget(timeout time.Duration) time.Duration {
	return callsPerRequest * (timeout + retryInterval)
}

// retryPolicy spaces the second attempt of a failed provider call.
func retryPolicy() backoff.Policy {
	return backoff.Constant(
		backoff.WithInterval(retryInterval),
		backoff.WithMaxRetries(attempts),
	)
}

func (s *Service) generate(ctx context.Context, code string, t *template.Template, data any) (string, error) {
	prompt, err := render(t, data)
	if err != nil {
		return "", apperr.New(apperr.Internal, code+".render", "", err)
	}

	var lastErr error
	b := s.retry.Start(ctx)
	for i := 0; i < attempts && backoff.Continue(b); i++ {
		callCtx := ctx
		var cancel context.CancelFunc = func() {}
		if s.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		}
		out, err := s.gen.Generate(callCtx, prompt)
		cancel()
		if err == nil {
			return out, nil
		}

		lastErr = err
		log.WithFields(log.Fields{"code": code, "attempt": i + 1}).Warnf("ai call failed: %s", err)
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return "", apperr.NewAIUnavailable(code, lastErr)
}

func (s *Service) generateJSON(ctx context.Context, code string, t *template.Template, data any, out any) error {
	raw, err := s.generate(ctx, code, t, data)
	if err != nil {
		return err
	}
	if err := decodeStrict(raw, out); err != nil {
		log.WithFields(log.Fields{"code": code}).Debugf("malformed ai output: %q", raw)
		return apperr.NewMalformedAIOutput(code+".parse", err)
	}
	return nil
}

// Chat runs one turn of an AI sub-conversation. history is the sub-conversation
// so far, starting with the question being answered.
func (s *Service) Chat(ctx context.Context, message string, history []model.AIMessage) (ChatReply, error) {
	var out struct {
		Content              *string `json:"content"`
		ConversationFinished *bool   `json:"conversationFinished"`
	}
	err := s.generateJSON(ctx, "ai.chat", s.prompts.chat, map[string]any{
		"Message": message,
		"History": history,
	}, &out)
	if err != nil {
		return ChatReply{}, err
	}

	if out.Content == nil || strings.TrimSpace(*out.Content) == "" || out.ConversationFinished == nil {
		return ChatReply{}, apperr.NewMalformedAIOutput("ai.chat.shape", errors.New("content and conversationFinished are required"))
	}
	return ChatReply{Content: strings.TrimSpace(*out.Content), ConversationFinished: *out.ConversationFinished}, nil
}

// Summarize collapses a transcript into one sentence.
func (s *Service) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := s.generate(ctx, "ai.summarize", s.prompts.summarize, map[string]any{
		"Transcript": transcript,
	})
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(out)
	if summary == "" {
		return "", apperr.NewMalformedAIOutput("ai.summarize.empty", errors.New("empty summary"))
	}
	return summary, nil
}

// ExtractProblems reads one flattened submission. Any deviation from the
// expected shape fails the whole extraction; nothing partial is returned.
func (s *Service) ExtractProblems(ctx context.Context, submissionText string) (Extraction, error) {
	var out struct {
		Sentiment *Sentiment `json:"sentiment"`
		Problems  *[]struct {
			Problem   string   `json:"problem"`
			Solutions []string `json:"solutions"`
		} `json:"problems"`
	}
	err := s.generateJSON(ctx, "ai.extract", s.prompts.extract, map[string]any{
		"Submission": submissionText,
	}, &out)
	if err != nil {
		return Extraction{}, err
	}

	if out.Sentiment == nil || out.Problems == nil {
		return Extraction{}, apperr.NewMalformedAIOutput("ai.extract.shape", errors.New("sentiment and problems are required"))
	}
	switch *out.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return Extraction{}, apperr.NewMalformedAIOutput("ai.extract.sentiment", fmt.Errorf("unknown sentiment %q", *out.Sentiment))
	}

	result := Extraction{Sentiment: *out.Sentiment, Problems: []model.Problem{}}
	for i, p := range *out.Problems {
		text := strings.TrimSpace(p.Problem)
		if text == "" {
			return Extraction{}, apperr.NewMalformedAIOutput("ai.extract.problem", fmt.Errorf("problem %d has no description", i))
		}
		result.Problems = append(result.Problems, model.Problem{
			ID:        uuid.NewString(),
			Problem:   text,
			Solutions: cleanSolutions(p.Solutions),
		})
	}
	return result, nil
}

func cleanSolutions(in []string) []string {
	out := []string{}
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
