package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

// CreateSubmission writes the submission, its values and its AI conversations
// in one transaction.
func (s *Store) CreateSubmission(ctx context.Context, sub model.Submission) (int, error) {
	if sub.CompletedAt.IsZero() {
		sub.CompletedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("db.begin_tx", err)
	}
	defer tx.Rollback()

	var timeTaken sql.NullInt64
	if sub.TimeTaken != nil {
		timeTaken = sql.NullInt64{Int64: int64(*sub.TimeTaken), Valid: true}
	}

	var submissionID int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO submission (form_id, completed_at, time_taken, ip)
		VALUES (?, ?, ?, ?)
		RETURNING id`,
		sub.FormID,
		sub.CompletedAt,
		timeTaken,
		sub.IPAddress,
	).Scan(&submissionID)
	if err != nil {
		return 0, storageErr("db.insert_submission", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submission_value (submission_id, field_id, value)
		VALUES (?, ?, ?)`)
	if err != nil {
		return 0, storageErr("db.insert_submission.values.prepare", err)
	}
	defer stmt.Close()

	for fieldID, value := range sub.Data {
		valueJSON, err := json.Marshal(value)
		if err != nil {
			return 0, apperr.New(apperr.Internal, "db.insert_submission.values.encode", "", err)
		}
		_, err = stmt.ExecContext(ctx, submissionID, fieldID, string(valueJSON))
		if err != nil {
			return 0, storageErr("db.insert_submission.values.insert", err)
		}
	}

	for _, conv := range sub.AIConversations {
		messages, err := json.Marshal(conv.Messages)
		if err != nil {
			return 0, apperr.New(apperr.Internal, "db.insert_submission.conversations.encode", "", err)
		}
		if conv.CreatedAt.IsZero() {
			conv.CreatedAt = sub.CompletedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ai_conversation (id, submission_id, field_id, messages, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			conv.ID, submissionID, conv.FieldID, string(messages), conv.CreatedAt,
		)
		if err != nil {
			return 0, storageErr("db.insert_submission.conversations.insert", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("db.insert_submission.commit", err)
	}
	return submissionID, nil
}

func (s *Store) HasSubmissionFromIP(ctx context.Context, formID int, ip string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM submission
		WHERE form_id = ?
			AND ip = ?
		LIMIT 1`,
		formID,
		ip,
	).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return found, storageErr("db.get_ip", err)
}

const submissionColumns = `s.id, s.form_id, s.completed_at, s.time_taken, s.ip, s.sentiment`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (model.Submission, error) {
	sub := model.Submission{Data: map[string]any{}}
	var timeTaken sql.NullInt64
	var sentiment sql.NullString
	err := row.Scan(&sub.ID, &sub.FormID, &sub.CompletedAt, &timeTaken, &sub.IPAddress, &sentiment)
	if err != nil {
		return sub, err
	}
	if timeTaken.Valid {
		t := int(timeTaken.Int64)
		sub.TimeTaken = &t
	}
	sub.Sentiment = sentiment.String
	return sub, nil
}

// GetSubmission loads one submission, scoped to forms owned by owner.
func (s *Store) GetSubmission(ctx context.Context, owner string, submissionID int) (model.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submission s
		INNER JOIN form f ON (f.id = s.form_id)
		WHERE s.id = ?
			AND f.owner = ?`,
		submissionID,
		owner,
	)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, apperr.NewNotFound("db.get_submission", "submission not found")
	}
	if err != nil {
		return sub, storageErr("db.get_submission.scan", err)
	}

	subs := []model.Submission{sub}
	if err := s.attachDetails(ctx, subs); err != nil {
		return sub, err
	}
	return subs[0], nil
}

func (s *Store) GetFormSubmissions(ctx context.Context, formID int) ([]model.Submission, error) {
	return s.listSubmissions(ctx, "db.get_submissions", `
		SELECT `+submissionColumns+`
		FROM submission s
		WHERE s.form_id = ?
		ORDER BY s.id`,
		formID,
	)
}

// UnanalyzedSubmissions are the form's submissions that never went through
// problem extraction successfully.
func (s *Store) UnanalyzedSubmissions(ctx context.Context, formID int) ([]model.Submission, error) {
	return s.listSubmissions(ctx, "db.get_unanalyzed", `
		SELECT `+submissionColumns+`
		FROM submission s
		WHERE s.form_id = ?
			AND s.analyzed_at IS NULL
		ORDER BY s.id`,
		formID,
	)
}

func (s *Store) listSubmissions(ctx context.Context, code, query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(code, err)
	}
	defer rows.Close()

	subs := []model.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, storageErr(code+".scan", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(code+".rows", err)
	}
	rows.Close()

	if err := s.attachDetails(ctx, subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// attachDetails fills values, problems and AI conversations of subs in place.
func (s *Store) attachDetails(ctx context.Context, subs []model.Submission) error {
	if len(subs) == 0 {
		return nil
	}
	byID := make(map[int]*model.Submission, len(subs))
	ids := make([]any, len(subs))
	for i := range subs {
		byID[subs[i].ID] = &subs[i]
		ids[i] = subs[i].ID
	}
	in := "(?" + strings.Repeat(", ?", len(ids)-1) + ")"

	rows, err := s.db.QueryContext(ctx,
		"SELECT submission_id, field_id, value FROM submission_value WHERE submission_id IN "+in,
		ids...,
	)
	if err != nil {
		return storageErr("db.get_submissions.values", err)
	}
	for rows.Next() {
		var subID int
		var fieldID, value string
		if err := rows.Scan(&subID, &fieldID, &value); err != nil {
			rows.Close()
			return storageErr("db.get_submissions.values.scan", err)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			rows.Close()
			return storageErr("db.get_submissions.values.parse", err)
		}
		byID[subID].Data[fieldID] = v
	}
	rows.Close()

	problems, err := s.problemsOf(ctx, in, ids)
	if err != nil {
		return err
	}
	for subID, ps := range problems {
		byID[subID].Problems = ps
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, submission_id, field_id, messages, created_at
		FROM ai_conversation
		WHERE submission_id IN `+in+`
		ORDER BY created_at`,
		ids...,
	)
	if err != nil {
		return storageErr("db.get_submissions.conversations", err)
	}
	defer rows.Close()
	for rows.Next() {
		conv := model.AIConversation{}
		var messages string
		err := rows.Scan(&conv.ID, &conv.SubmissionID, &conv.FieldID, &messages, &conv.CreatedAt)
		if err != nil {
			return storageErr("db.get_submissions.conversations.scan", err)
		}
		if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
			return storageErr("db.get_submissions.conversations.parse", err)
		}
		sub := byID[conv.SubmissionID]
		sub.AIConversations = append(sub.AIConversations, conv)
	}
	return storageErr("db.get_submissions.conversations.rows", rows.Err())
}
