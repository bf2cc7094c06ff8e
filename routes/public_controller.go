package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/model"
	"github.com/mbolis/intelliform/sequencer"
)

type publicForm struct {
	model.Form
	Submitted bool `json:"submitted"`
}

func PublicGetFormById(app app.App, guard *ipGuard) http.HandlerFunc {
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

		err = guard.writer(app.Store, form, clientIP(r)).Check(r.Context())
		if err == errAlreadySubmitted {
			render.JSON(w, r, publicForm{
				Form:      model.Form{ID: form.ID, Title: form.Title, Description: form.Description, Settings: form.Settings},
				Submitted: true,
			})
			return
		}
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.JSON(w, r, publicForm{Form: form})
	}
}

type submissionPayload struct {
	Data      map[string]any `json:"data" validate:"required"`
	TimeTaken *int           `json:"timeTaken" validate:"omitempty,min=0"`
}

// PublicSubmitForm takes a whole submission at once, for forms rendered
// without the conversational flow.
func PublicSubmitForm(app app.App, guard *ipGuard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId, ok := urlInt(w, r, "id")
		if !ok {
			return
		}

		payload := submissionPayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		form, err := app.GetPublishedForm(r.Context(), formId)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		answers, err := sequencer.Replay(form.Fields, payload.Data)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		ip := clientIP(r)
		submissionId, err := guard.writer(app.Store, form, ip).CreateSubmission(r.Context(), model.Submission{
			FormID:      form.ID,
			Data:        answers,
			CompletedAt: time.Now(),
			TimeTaken:   payload.TimeTaken,
			IPAddress:   ip,
		})
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		app.Problems.Schedule(form.Owner, submissionId)

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id":              submissionId,
			"thankYouMessage": form.Settings.ThankYouMessage,
		})
	}
}
