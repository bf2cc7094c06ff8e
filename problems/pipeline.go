// Package problems turns submissions into problems and problems into ranked
// groups, and applies resolutions back to storage.
package problems

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/mbolis/intelliform/ai"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/log"
	"github.com/mbolis/intelliform/model"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	GetForm(ctx context.Context, formID int) (model.Form, error)
	GetSubmission(ctx context.Context, owner string, submissionID int) (model.Submission, error)
	UnanalyzedSubmissions(ctx context.Context, formID int) ([]model.Submission, error)
	SetSubmissionProblems(ctx context.Context, submissionID int, sentiment string, problems []model.Problem) error
	UpdateSubmissionProblem(ctx context.Context, owner string, submissionID int, problemID string, resolved bool, comment string) error
	ResolveGroupedProblem(ctx context.Context, owner, problem string, submissionIDs []int, comment string) (int, error)
	ListProblemMentions(ctx context.Context, owner string, formID int, includeResolved bool) ([]model.ProblemMention, error)
}

type Analyzer interface {
	ExtractProblems(ctx context.Context, submissionText string) (ai.Extraction, error)
	RankProblems(ctx context.Context, mentions []model.ProblemMention) ([]model.ProblemGroup, error)
}

type Pipeline struct {
	store   Store
	ai      Analyzer
	workers int

	// BackgroundTimeout bounds a scheduled extraction.
	BackgroundTimeout time.Duration

	wg sync.WaitGroup
}

func NewPipeline(store Store, analyzer Analyzer, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		store:             store,
		ai:                analyzer,
		workers:           workers,
		BackgroundTimeout: 2 * time.Minute,
	}
}

// SubmissionText flattens a submission into "label: answer" lines in field
// order. Password and file answers are left out.
func SubmissionText(form model.Form, sub model.Submission) string {
	var sb strings.Builder
	for _, f := range form.Fields {
		value, ok := sub.Data[f.ID]
		if !ok || value == nil {
			continue
		}
		switch f.Type {
		case model.FieldPassword, model.FieldFile:
			continue
		}
		answer := renderValue(value)
		if strings.TrimSpace(answer) == "" {
			continue
		}
		sb.WriteString(f.Label)
		sb.WriteString(": ")
		sb.WriteString(answer)
		sb.WriteString("\n")
	}
	return sb.String()
}

func renderValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = renderValue(item)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		parts := make([]string, 0, len(x))
		for k, item := range x {
			parts = append(parts, k+": "+renderValue(item))
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprint(v)
}

func (p *Pipeline) extract(ctx context.Context, form model.Form, sub model.Submission) error {
	extraction, err := p.ai.ExtractProblems(ctx, SubmissionText(form, sub))
	if err != nil {
		return err
	}
	return p.store.SetSubmissionProblems(ctx, sub.ID, string(extraction.Sentiment), extraction.Problems)
}

// ExtractSubmission (re)runs extraction for one submission. On any failure
// the stored problems are left as they were. Once any of its problems is
// resolved a submission is no longer re-extracted.
func (p *Pipeline) ExtractSubmission(ctx context.Context, owner string, submissionID int) (model.Submission, error) {
	sub, err := p.store.GetSubmission(ctx, owner, submissionID)
	if err != nil {
		return sub, err
	}
	for _, problem := range sub.Problems {
		if problem.Resolved {
			return sub, apperr.NewConflict("problems.extract.resolved", "submission has resolved problems")
		}
	}
	form, err := p.store.GetForm(ctx, sub.FormID)
	if err != nil {
		return sub, err
	}
	if err := p.extract(ctx, form, sub); err != nil {
		return sub, err
	}
	return p.store.GetSubmission(ctx, owner, submissionID)
}

type BatchResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// ExtractForm runs extraction over every submission of the form that was never
// analyzed, a few at a time. Failures do not stop the batch; they are counted
// and returned together.
func (p *Pipeline) ExtractForm(ctx context.Context, owner string, formID int) (BatchResult, error) {
	var result BatchResult

	form, err := p.store.GetForm(ctx, formID)
	if err != nil {
		return result, err
	}
	if form.Owner != owner {
		return result, apperr.NewNotFound("problems.extract_form.owner", "form not found")
	}

	subs, err := p.store.UnanalyzedSubmissions(ctx, formID)
	if err != nil {
		return result, err
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			err := p.extract(ctx, form, sub)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				errs = multierror.Append(errs, fmt.Errorf("submission %d: %w", sub.ID, err))
				return nil
			}
			result.Processed++
			return nil
		})
	}
	_ = g.Wait()

	return result, errs.ErrorOrNil()
}

// Schedule extracts problems of a fresh submission in the background.
func (p *Pipeline) Schedule(owner string, submissionID int) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.BackgroundTimeout)
		defer cancel()

		if _, err := p.ExtractSubmission(ctx, owner, submissionID); err != nil {
			log.WithFields(log.Fields{
				"submission": submissionID,
				"code":       apperr.CodeOf(err),
			}).Warnf("problems.extract: %s", err)
			return
		}
		log.Debugf("problems.extract: submission %d analyzed", submissionID)
	}()
}

// Wait blocks until scheduled extractions are done.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Groups ranks the owner's problems; formID 0 spans all the owner's forms.
func (p *Pipeline) Groups(ctx context.Context, owner string, formID int, includeResolved bool) ([]model.ProblemGroup, error) {
	if formID != 0 {
		form, err := p.store.GetForm(ctx, formID)
		if err != nil {
			return nil, err
		}
		if form.Owner != owner {
			return nil, apperr.NewNotFound("problems.groups.owner", "form not found")
		}
	}

	mentions, err := p.store.ListProblemMentions(ctx, owner, formID, includeResolved)
	if err != nil {
		return nil, err
	}
	return p.ai.RankProblems(ctx, mentions)
}

func commentMissing(code, comment string) error {
	if strings.TrimSpace(comment) == "" {
		return apperr.NewResolutionPrecondition(code, "a resolution comment is required")
	}
	return nil
}

// ResolveProblem sets the resolved flag of one problem of one submission.
func (p *Pipeline) ResolveProblem(ctx context.Context, owner string, submissionID int, problemID string, resolved bool, comment string) error {
	if resolved {
		if err := commentMissing("problems.resolve.comment", comment); err != nil {
			return err
		}
	}
	return p.store.UpdateSubmissionProblem(ctx, owner, submissionID, problemID, resolved, comment)
}

// ResolveGroup resolves the canonical problem in each listed submission and
// returns how many submissions changed.
func (p *Pipeline) ResolveGroup(ctx context.Context, owner, problem string, submissionIDs []string, comment string) (int, error) {
	if err := commentMissing("problems.resolve_group.comment", comment); err != nil {
		return 0, err
	}
	if strings.TrimSpace(problem) == "" {
		return 0, apperr.NewValidation("problems.resolve_group.problem", "problem is required")
	}

	ids := make([]int, 0, len(submissionIDs))
	for _, raw := range submissionIDs {
		id, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return 0, apperr.NewValidation("problems.resolve_group.ids", fmt.Sprintf("invalid submission id %q", raw))
		}
		ids = append(ids, id)
	}

	return p.store.ResolveGroupedProblem(ctx, owner, problem, ids, comment)
}
