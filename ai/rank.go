package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/log"
	"github.com/mbolis/intelliform/model"
)

const maxSolutions = 3

// RankProblems canonicalizes mentions into groups sorted by count descending,
// then name. The provider output is checked against the mentions it was given;
// a violating answer is re-requested once and then rejected.
func (s *Service) RankProblems(ctx context.Context, mentions []model.ProblemMention) ([]model.ProblemGroup, error) {
	if len(mentions) == 0 {
		return []model.ProblemGroup{}, nil
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		var raw []model.ProblemGroup
		err := s.generateJSON(ctx, "ai.rank", s.prompts.rank, map[string]any{
			"Mentions": mentions,
		}, &raw)
		if err != nil {
			if apperr.KindOf(err) != apperr.MalformedAIOutput {
				return nil, err
			}
			lastErr = err
			continue
		}

		groups, err := checkGroups(raw, mentions)
		if err == nil {
			return groups, nil
		}
		lastErr = apperr.NewMalformedAIOutput("ai.rank.invariant", err)
		log.WithFields(log.Fields{"attempt": i + 1}).Warnf("ai.rank: rejected grouping: %s", err)
	}
	return nil, lastErr
}

// checkGroups validates and normalizes a grouping: ids must come from the
// input, appear once per group and match count.
func checkGroups(raw []model.ProblemGroup, mentions []model.ProblemMention) ([]model.ProblemGroup, error) {
	known := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		known[m.SubmissionID] = true
	}

	names := make(map[string]bool, len(raw))
	groups := make([]model.ProblemGroup, 0, len(raw))
	for i, g := range raw {
		name := strings.Join(strings.Fields(g.Problem), " ")
		if name == "" {
			return nil, fmt.Errorf("group %d has no name", i)
		}
		key := strings.ToLower(name)
		if names[key] {
			return nil, fmt.Errorf("group %q appears twice", name)
		}
		names[key] = true

		ids := make([]string, 0, len(g.IDs))
		seen := make(map[string]bool, len(g.IDs))
		for _, id := range g.IDs {
			id = strings.TrimSpace(id)
			if !known[id] {
				return nil, fmt.Errorf("group %q references unknown submission %q", name, id)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("group %q has no submissions", name)
		}
		if g.Count != len(ids) {
			return nil, fmt.Errorf("group %q has count %d but %d distinct submissions", name, g.Count, len(ids))
		}

		solutions := cleanSolutions(g.Solutions)
		if len(solutions) == 0 {
			return nil, fmt.Errorf("group %q has no solutions", name)
		}
		if len(solutions) > maxSolutions {
			solutions = solutions[:maxSolutions]
		}

		groups = append(groups, model.ProblemGroup{
			Problem:   name,
			Count:     len(ids),
			IDs:       ids,
			Solutions: solutions,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Problem < groups[j].Problem
	})
	return groups, nil
}
