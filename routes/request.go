package routes

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/httpx"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeBody reads a JSON body into v and checks its validate tags. On failure
// the response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		httpx.WriteError(w, r, apperr.NewValidation("request.parse_body", "malformed JSON body"))
		return false
	}

	err := validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpx.WriteError(w, r, apperr.New(apperr.Internal, "request.validate", "", err))
		return false
	}

	fe := verrs[0]
	msg := fmt.Sprintf("%s is invalid", fe.Field())
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required", fe.Field())
	case "min", "max":
		msg = fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	httpx.WriteError(w, r, apperr.NewValidation("request.validate."+fe.Field(), msg))
	return false
}

func urlInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		httpx.WriteError(w, r, apperr.NewValidation("request.get_url_param."+name, "invalid "+name))
		return 0, false
	}
	return id, true
}

// clientIP is the request address without port; middleware.RealIP has
// already applied proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
