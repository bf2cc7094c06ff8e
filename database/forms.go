package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

// fieldExtra is the JSON column holding the optional parts of a field.
type fieldExtra struct {
	Options       []string                `json:"options,omitempty"`
	Validation    []model.ValidationRule  `json:"validation,omitempty"`
	Conditional   *model.ConditionalLogic `json:"conditional,omitempty"`
	MatrixRows    []string                `json:"matrixRows,omitempty"`
	MatrixColumns []string                `json:"matrixColumns,omitempty"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func insertFields(ctx context.Context, tx execer, formID int, fields []model.FormField) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO form_field (form_id, position, field_id, type, label, required, ai_enabled, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return storageErr("db.insert_form.fields.prepare", err)
	}
	defer stmt.Close()

	for i, f := range fields {
		extra, err := json.Marshal(fieldExtra{
			Options:       f.Options,
			Validation:    f.Validation,
			Conditional:   f.Conditional,
			MatrixRows:    f.MatrixRows,
			MatrixColumns: f.MatrixColumns,
		})
		if err != nil {
			return apperr.New(apperr.Internal, "db.insert_form.fields.encode_extra", "", err)
		}
		_, err = stmt.ExecContext(ctx, formID, i, f.ID, f.Type, f.Label, f.Required, f.AIEnabled, string(extra))
		if err != nil {
			return storageErr("db.insert_form.fields.insert", err)
		}
	}
	return nil
}

func (s *Store) CreateForm(ctx context.Context, owner string, form model.Form) (int, error) {
	settings, err := json.Marshal(form.Settings)
	if err != nil {
		return 0, apperr.New(apperr.Internal, "db.insert_form.encode_settings", "", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("db.begin_tx", err)
	}
	defer tx.Rollback()

	var formID int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO form (owner, title, description, settings, is_published)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		owner,
		form.Title,
		form.Description,
		string(settings),
		form.IsPublished,
	).Scan(&formID)
	if err != nil {
		return 0, storageErr("db.insert_form", err)
	}

	if err := insertFields(ctx, tx, formID, form.Fields); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("db.insert_form.commit", err)
	}
	return formID, nil
}

// ListForms returns the owner's forms without their fields.
func (s *Store) ListForms(ctx context.Context, owner string) ([]model.Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.version, f.title, f.description, f.settings, f.is_published
		FROM form f
		WHERE f.owner = ?
		ORDER BY f.id`,
		owner,
	)
	if err != nil {
		return nil, storageErr("db.get_forms", err)
	}
	defer rows.Close()

	forms := []model.Form{}
	for rows.Next() {
		f := model.Form{Owner: owner}
		var settings string
		err = rows.Scan(&f.ID, &f.Version, &f.Title, &f.Description, &settings, &f.IsPublished)
		if err != nil {
			return nil, storageErr("db.get_forms.scan", err)
		}
		if err := json.Unmarshal([]byte(settings), &f.Settings); err != nil {
			return nil, storageErr("db.get_forms.parse_settings", err)
		}
		forms = append(forms, f)
	}
	return forms, storageErr("db.get_forms.rows", rows.Err())
}

func (s *Store) GetForm(ctx context.Context, formID int) (model.Form, error) {
	form := model.Form{ID: formID}
	var settings string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner, version, title, description, settings, is_published
		FROM form
		WHERE id = ?`,
		formID,
	).Scan(&form.Owner, &form.Version, &form.Title, &form.Description, &settings, &form.IsPublished)
	if errors.Is(err, sql.ErrNoRows) {
		return form, apperr.NewNotFound("db.get_form", "form not found")
	}
	if err != nil {
		return form, storageErr("db.get_form", err)
	}
	if err := json.Unmarshal([]byte(settings), &form.Settings); err != nil {
		return form, storageErr("db.get_form.parse_settings", err)
	}

	form.Fields, err = s.formFields(ctx, formID)
	return form, err
}

// GetOwnedForm hides forms of other owners behind NotFound.
func (s *Store) GetOwnedForm(ctx context.Context, owner string, formID int) (model.Form, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return form, err
	}
	if form.Owner != owner {
		return model.Form{}, apperr.NewNotFound("db.get_form.owner", "form not found")
	}
	return form, nil
}

// GetPublishedForm is the respondent-facing lookup.
func (s *Store) GetPublishedForm(ctx context.Context, formID int) (model.Form, error) {
	form, err := s.GetForm(ctx, formID)
	if err != nil {
		return form, err
	}
	if !form.IsPublished {
		return model.Form{}, apperr.NewNotFound("db.get_form.unpublished", "form not found")
	}
	return form, nil
}

func (s *Store) formFields(ctx context.Context, formID int) ([]model.FormField, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field_id, type, label, required, ai_enabled, extra
		FROM form_field
		WHERE form_id = ?
		ORDER BY position`,
		formID,
	)
	if err != nil {
		return nil, storageErr("db.get_form.fields", err)
	}
	defer rows.Close()

	fields := []model.FormField{}
	for rows.Next() {
		f := model.FormField{}
		var extraJSON string
		err = rows.Scan(&f.ID, &f.Type, &f.Label, &f.Required, &f.AIEnabled, &extraJSON)
		if err != nil {
			return nil, storageErr("db.get_form.fields.scan", err)
		}

		var extra fieldExtra
		if err := json.Unmarshal([]byte(extraJSON), &extra); err != nil {
			return nil, storageErr("db.get_form.fields.parse_extra", err)
		}
		f.Options = extra.Options
		f.Validation = extra.Validation
		f.Conditional = extra.Conditional
		f.MatrixRows = extra.MatrixRows
		f.MatrixColumns = extra.MatrixColumns

		fields = append(fields, f)
	}
	return fields, storageErr("db.get_form.fields.rows", rows.Err())
}

// UpdateForm replaces title, description, settings and the whole field list.
// form.Version must match the stored version (optimistic lock).
func (s *Store) UpdateForm(ctx context.Context, owner string, form model.Form) error {
	if _, err := s.GetOwnedForm(ctx, owner, form.ID); err != nil {
		return err
	}

	settings, err := json.Marshal(form.Settings)
	if err != nil {
		return apperr.New(apperr.Internal, "db.update_form.encode_settings", "", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("db.begin_tx", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE form
		SET
			title = ?,
			description = ?,
			settings = ?,
			version = version+1
		WHERE id = ?
			AND version = ?`,
		form.Title,
		form.Description,
		string(settings),
		form.ID,
		form.Version,
	)
	if err != nil {
		return storageErr("db.update_form", err)
	}
	// optimistic lock
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("db.update_form.verify", err)
	}
	if n < 1 {
		return apperr.NewConflict("db.update_form.verify.conflict", "form was modified concurrently")
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM form_field WHERE form_id = ?", form.ID)
	if err != nil {
		return storageErr("db.update_form.delete_fields", err)
	}
	if err := insertFields(ctx, tx, form.ID, form.Fields); err != nil {
		return err
	}

	return storageErr("db.update_form.commit", tx.Commit())
}

func (s *Store) DeleteForm(ctx context.Context, owner string, formID int) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM form WHERE id = ? AND owner = ?", formID, owner)
	if err != nil {
		return storageErr("db.delete_form", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("db.delete_form.verify", err)
	}
	if n < 1 {
		return apperr.NewNotFound("db.delete_form", "form not found")
	}
	return nil
}

func (s *Store) SetPublished(ctx context.Context, owner string, formID int, published bool) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE form SET is_published = ? WHERE id = ? AND owner = ?",
		published, formID, owner,
	)
	if err != nil {
		return storageErr("db.publish_form", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("db.publish_form.verify", err)
	}
	if n < 1 {
		return apperr.NewNotFound("db.publish_form", "form not found")
	}
	return nil
}
