package routes

import (
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/routes/middlewares"
)

type registerPayload struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func Register(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := registerPayload{}
		if !decodeBody(w, r, &payload) {
			return
		}

		err := app.CreateUser(r.Context(), strings.TrimSpace(payload.Username), payload.Password)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"username": strings.TrimSpace(payload.Username),
		})
	}
}

var errBadCredentials = apperr.New(apperr.Unauthorized, "login.credentials", "invalid credentials", nil)

// forward relays a bearer server response, turning its rejections into the
// common error body.
func forward(w http.ResponseWriter, r *http.Request, resp *httpx.ResponseBuffer) {
	if resp.Status() == http.StatusUnauthorized {
		httpx.WriteError(w, r, errBadCredentials)
		return
	}
	resp.Flush(w)
}

func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			httpx.WriteError(w, r, apperr.New(apperr.Unauthorized, "login.basic_auth", "basic authentication required", nil))
			return
		}

		body := url.Values{
			"grant_type": {"password"},
			"username":   {user},
			"password":   {pass},
		}.Encode()
		r.Body = io.NopCloser(strings.NewReader(body))
		r.ContentLength = int64(len(body))
		r.Header.Set("content-type", "application/x-www-form-urlencoded")
		r.Header.Set("content-length", strconv.Itoa(len(body)))

		resp := httpx.NewResponseBuffer()
		app.UserCredentials(resp, r)
		forward(w, r, resp)
	}
}

var reRefresh = regexp.MustCompile(`(?i)^refresh\s+(.*)`)

func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match := reRefresh.FindStringSubmatch(r.Header.Get("authorization"))
		if len(match) == 0 {
			httpx.WriteError(w, r, apperr.New(apperr.Unauthorized, "refresh.token", "refresh token required", nil))
			return
		}

		forward(w, r, middlewares.RefreshGrant(app.BearerServer, match[1]))
	}
}
