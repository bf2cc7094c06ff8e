package routes

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/model"
	"github.com/mbolis/intelliform/routes/middlewares"
	"github.com/mbolis/intelliform/sequencer"
)

// decodeForm reads a form definition, derives missing field ids and checks
// the definition.
func decodeForm(w http.ResponseWriter, r *http.Request) (model.Form, bool) {
	form := model.Form{}
	if !decodeBody(w, r, &form) {
		return form, false
	}

	sequencer.AssignFieldIDs(form.Fields)
	if err := sequencer.ValidateForm(form); err != nil {
		httpx.WriteError(w, r, err)
		return form, false
	}
	return form, true
}

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := decodeForm(w, r)
		if !ok {
			return
		}

		formId, err := app.Store.CreateForm(r.Context(), middlewares.Owner(r), form)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": formId,
		})
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forms, err := app.Store.ListForms(r.Context(), middlewares.Owner(r))
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetFormById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		form, err := app.GetOwnedForm(r.Context(), middlewares.Owner(r), formId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, form)
	}
}

// UpdateForm replaces the definition; the body must carry the version it was
// read at.
func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		form, ok := decodeForm(w, r)
		if !ok {
			return
		}
		form.ID = formId

		err := app.Store.UpdateForm(r.Context(), middlewares.Owner(r), form)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		err := app.Store.DeleteForm(r.Context(), middlewares.Owner(r), formId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type publishPayload struct {
	Published *bool `json:"published" validate:"required"`
}

func PublishForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		payload := publishPayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		err := app.SetPublished(r.Context(), middlewares.Owner(r), formId, *payload.Published)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetFormSubmissions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		if _, err := app.GetOwnedForm(r.Context(), middlewares.Owner(r), formId); err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		submissions, err := app.GetFormSubmissions(r.Context(), formId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, map[string]any{
			"submissions": submissions,
		})
	}
}

func GetSubmissionById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		submission, err := app.GetSubmission(r.Context(), middlewares.Owner(r), submissionId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, submission)
	}
}
