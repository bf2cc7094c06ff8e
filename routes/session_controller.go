package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/sequencer"
)

// StartSession opens a conversational session on a published form.
func StartSession(app app.App, guard *ipGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		form, err := app.GetPublishedForm(r.Context(), formId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		ip := clientIP(r)
		writer := guard.writer(app.Store, form, ip)
		if err := writer.Check(r.Context()); err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		owner := form.Owner
		session := sequencer.NewSession(form, app.Assistant, writer, sequencer.Options{
			MaxTurns:  app.Config.AI.MaxTurns,
			IPAddress: ip,
			OnSubmitted: func(submissionId int) {
				app.Problems.Schedule(owner, submissionId)
			},
		})
		app.Sessions.Put(session)

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, session.View())
	}
}

func session(app app.App, w http.ResponseWriter, r *http.Request) (*sequencer.Session, bool) {
	id := chi.URLParam(r, "sid")
	s, ok := app.Sessions.Get(id)
	if !ok {
		httpx.WriteError(w, r, apperr.NewNotFound("session.get", "session not found or expired"))
		return nil, false
	}
	return s, true
}

// reply renders the session view. A submitted session has nothing left to do
// and leaves the registry.
func reply(app app.App, w http.ResponseWriter, r *http.Request, view sequencer.View) {
	if view.Submitted {
		app.Sessions.Delete(view.SessionID)
	}
	render.JSON(w, r, view)
}

func GetSession(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(app, w, r)
		if !ok {
			return
		}
		render.JSON(w, r, s.View())
	}
}

type answerPayload struct {
	FieldID string `json:"fieldId"`
	Value   any    `json:"value"`
}

func AnswerSession(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(app, w, r)
		if !ok {
			return
		}

		payload := answerPayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		view, err := s.SubmitAnswer(r.Context(), payload.FieldID, payload.Value)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		reply(app, w, r, view)
	}
}

type messagePayload struct {
	Message string `json:"message" validate:"required"`
}

func MessageSession(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(app, w, r)
		if !ok {
			return
		}

		payload := messagePayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		view, err := s.SendMessage(r.Context(), payload.Message)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		reply(app, w, r, view)
	}
}

// SubmitSession retries the final write of a completed session.
func SubmitSession(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(app, w, r)
		if !ok {
			return
		}

		view, err := s.Finalize(r.Context())
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		reply(app, w, r, view)
	}
}
