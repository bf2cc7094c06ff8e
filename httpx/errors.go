package httpx

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/log"
)

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, code string, err error) {
	log.Errorf("%s: %s", code, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Status maps an error kind to its HTTP status.
func Status(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.ResolutionPrecondition:
		return http.StatusUnprocessableEntity
	case apperr.MalformedAIOutput:
		return http.StatusBadGateway
	case apperr.AIUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Will log err under its code, and send a JSON error body whose status depends
// on the error kind. Internal and storage details never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := Status(kind)

	code := apperr.CodeOf(err)
	if code == "" {
		code = "internal"
	}

	msg := apperr.MessageOf(err)
	switch {
	case status >= http.StatusInternalServerError && kind != apperr.AIUnavailable && kind != apperr.MalformedAIOutput:
		log.Errorf("%s: %s", code, err)
		msg = http.StatusText(status)
	case status >= http.StatusInternalServerError:
		log.Warnf("%s: %s", code, err)
	default:
		log.Debugf("%s: %s", code, err)
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	render.Status(r, status)
	render.JSON(w, r, ErrorBody{Error: kind.String(), Message: msg})
}
