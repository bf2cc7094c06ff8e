package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/log"
	"github.com/mbolis/intelliform/model"
	"github.com/mbolis/intelliform/routes/middlewares"
)

func ExtractSubmissionProblems(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		submission, err := app.Problems.ExtractSubmission(r.Context(), middlewares.Owner(r), submissionId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, submission)
	}
}

func ExtractFormProblems(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		result, err := app.Problems.ExtractForm(r.Context(), middlewares.Owner(r), formId)
		if err != nil && result.Processed+result.Failed == 0 {
			httpx.WriteError(w, r, err)
			return
		}
		if err != nil {
			log.WithFields(log.Fields{"form": formId, "failed": result.Failed}).
				Warnf("problems.extract_form: %s", err)
		}

		render.JSON(w, r, result)
	}
}

func includeResolved(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("includeResolved")
	if raw == "" {
		return false, nil
	}
	include, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.NewValidation("request.query.include_resolved", "includeResolved must be a boolean")
	}
	return include, nil
}

func problemGroups(app app.App, w http.ResponseWriter, r *http.Request, formId int) {
	include, err := includeResolved(r)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	groups, err := app.Problems.Groups(r.Context(), middlewares.Owner(r), formId, include)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if groups == nil {
		groups = []model.ProblemGroup{}
	}

	render.JSON(w, r, map[string]any{
		"groups": groups,
	})
}

func ListProblemGroups(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problemGroups(app, w, r, 0)
	}
}

func ListFormProblemGroups(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}
		problemGroups(app, w, r, formId)
	}
}

type resolvePayload struct {
	Resolved *bool  `json:"resolved" validate:"required"`
	Comment  string `json:"comment"`
}

func ResolveProblem(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submissionId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}
		problemId := chi.URLParam(r, "pid")

		payload := resolvePayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		err := app.Problems.ResolveProblem(r.Context(), middlewares.Owner(r), submissionId, problemId, *payload.Resolved, payload.Comment)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type resolveGroupPayload struct {
	Problem       string   `json:"problem" validate:"required"`
	SubmissionIDs []string `json:"submissionIds" validate:"required,min=1"`
	Comment       string   `json:"comment"`
}

// ResolveProblemGroup resolves one canonical problem across the listed
// submissions. The comment check is left to the pipeline so a blank comment
// gets the precondition status.
func ResolveProblemGroup(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := resolveGroupPayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		n, err := app.Problems.ResolveGroup(r.Context(), middlewares.Owner(r), payload.Problem, payload.SubmissionIDs, payload.Comment)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, map[string]any{
			"updatedCount": n,
		})
	}
}
