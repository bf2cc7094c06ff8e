package database

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

func (s *Store) problemsOf(ctx context.Context, in string, ids []any) (map[int][]model.Problem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT submission_id, id, problem, solutions, resolved, coalesce(resolution_comment, '')
		FROM submission_problem
		WHERE submission_id IN `+in+`
		ORDER BY submission_id, position`,
		ids...,
	)
	if err != nil {
		return nil, storageErr("db.get_problems", err)
	}
	defer rows.Close()

	problems := map[int][]model.Problem{}
	for rows.Next() {
		var subID int
		var p model.Problem
		var solutions string
		err := rows.Scan(&subID, &p.ID, &p.Problem, &solutions, &p.Resolved, &p.ResolutionComment)
		if err != nil {
			return nil, storageErr("db.get_problems.scan", err)
		}
		if err := json.Unmarshal([]byte(solutions), &p.Solutions); err != nil {
			return nil, storageErr("db.get_problems.parse_solutions", err)
		}
		problems[subID] = append(problems[subID], p)
	}
	return problems, storageErr("db.get_problems.rows", rows.Err())
}

var errResolvedProblems = apperr.NewConflict("db.set_problems.resolved", "submission has resolved problems")

// SetSubmissionProblems replaces the extracted problems of a submission and
// marks it analyzed. All or nothing. A submission holding resolved problems is
// left untouched and a Conflict is returned.
func (s *Store) SetSubmissionProblems(ctx context.Context, submissionID int, sentiment string, problems []model.Problem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("db.begin_tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE submission
		SET sentiment = ?, analyzed_at = ?
		WHERE id = ?`,
		sentiment, time.Now(), submissionID,
	)
	if err != nil {
		return storageErr("db.set_problems.mark", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return storageErr("db.set_problems.mark.verify", err)
	} else if n < 1 {
		return apperr.NewNotFound("db.set_problems", "submission not found")
	}

	var resolved int
	err = tx.QueryRowContext(ctx,
		"SELECT count(*) FROM submission_problem WHERE submission_id = ? AND resolved",
		submissionID,
	).Scan(&resolved)
	if err != nil {
		return storageErr("db.set_problems.resolved", err)
	}
	if resolved > 0 {
		return errResolvedProblems
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM submission_problem WHERE submission_id = ?", submissionID)
	if err != nil {
		return storageErr("db.set_problems.delete", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_problem (id, submission_id, position, problem, solutions, resolved, resolution_comment)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("db.set_problems.prepare", err)
	}
	defer stmt.Close()

	for i, p := range problems {
		solutions, err := json.Marshal(p.Solutions)
		if err != nil {
			return apperr.New(apperr.Internal, "db.set_problems.encode_solutions", "", err)
		}
		var comment any
		if p.ResolutionComment != "" {
			comment = p.ResolutionComment
		}
		_, err = stmt.ExecContext(ctx, p.ID, submissionID, i, strings.TrimSpace(p.Problem), string(solutions), p.Resolved, comment)
		if err != nil {
			return storageErr("db.set_problems.insert", err)
		}
	}

	return storageErr("db.set_problems.commit", tx.Commit())
}

func requireComment(code, comment string) error {
	if strings.TrimSpace(comment) == "" {
		return apperr.NewResolutionPrecondition(code, "a resolution comment is required")
	}
	return nil
}

// UpdateSubmissionProblem toggles one problem of one submission. Marking it
// unresolved keeps the previous comment.
func (s *Store) UpdateSubmissionProblem(ctx context.Context, owner string, submissionID int, problemID string, resolved bool, comment string) error {
	var (
		query string
		args  []any
	)
	if resolved {
		if err := requireComment("db.update_problem.comment", comment); err != nil {
			return err
		}
		query = "UPDATE submission_problem SET resolved = 1, resolution_comment = ?"
		args = []any{strings.TrimSpace(comment)}
	} else {
		query = "UPDATE submission_problem SET resolved = 0"
	}
	query += `
		WHERE id = ?
			AND submission_id = ?
			AND submission_id IN (
				SELECT s.id FROM submission s
				INNER JOIN form f ON (f.id = s.form_id)
				WHERE f.owner = ?
			)`
	args = append(args, problemID, submissionID, owner)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageErr("db.update_problem", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("db.update_problem.verify", err)
	}
	if n < 1 {
		return apperr.NewNotFound("db.update_problem", "problem not found")
	}
	return nil
}

// ResolveGroupedProblem marks, in each listed submission, the unresolved
// problems whose text matches problem (trimmed, case-insensitive). Each
// submission is one atomic UPDATE; the returned count is the number of
// submissions actually changed, even when an error stops the batch.
func (s *Store) ResolveGroupedProblem(ctx context.Context, owner, problem string, submissionIDs []int, comment string) (int, error) {
	if err := requireComment("db.resolve_group.comment", comment); err != nil {
		return 0, err
	}
	comment = strings.TrimSpace(comment)
	problem = strings.TrimSpace(problem)

	stmt, err := s.db.PrepareContext(ctx, `
		UPDATE submission_problem
		SET resolved = 1, resolution_comment = ?
		WHERE submission_id = ?
			AND resolved = 0
			AND trim(problem) = ? COLLATE NOCASE
			AND submission_id IN (
				SELECT s.id FROM submission s
				INNER JOIN form f ON (f.id = s.form_id)
				WHERE f.owner = ?
			)`)
	if err != nil {
		return 0, storageErr("db.resolve_group.prepare", err)
	}
	defer stmt.Close()

	seen := make(map[int]bool, len(submissionIDs))
	updated := 0
	for _, id := range submissionIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		res, err := stmt.ExecContext(ctx, comment, id, problem, owner)
		if err != nil {
			return updated, storageErr("db.resolve_group.update", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return updated, storageErr("db.resolve_group.verify", err)
		}
		if n > 0 {
			updated++
		}
	}
	return updated, nil
}

// ListProblemMentions flattens the owner's problems into (description,
// submission id) pairs. formID 0 means every form of the owner.
func (s *Store) ListProblemMentions(ctx context.Context, owner string, formID int, includeResolved bool) ([]model.ProblemMention, error) {
	query := `
		SELECT p.problem, p.submission_id
		FROM submission_problem p
		INNER JOIN submission s ON (s.id = p.submission_id)
		INNER JOIN form f ON (f.id = s.form_id)
		WHERE f.owner = ?`
	args := []any{owner}
	if formID != 0 {
		query += " AND f.id = ?"
		args = append(args, formID)
	}
	if !includeResolved {
		query += " AND p.resolved = 0"
	}
	query += " ORDER BY p.submission_id, p.position"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("db.list_mentions", err)
	}
	defer rows.Close()

	mentions := []model.ProblemMention{}
	for rows.Next() {
		var m model.ProblemMention
		var subID int
		if err := rows.Scan(&m.Problem, &subID); err != nil {
			return nil, storageErr("db.list_mentions.scan", err)
		}
		m.SubmissionID = strconv.Itoa(subID)
		mentions = append(mentions, m)
	}
	return mentions, storageErr("db.list_mentions.rows", rows.Err())
}
