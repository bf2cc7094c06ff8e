package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/oauth"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/httpx"
	"github.com/mbolis/intelliform/log"
)

type ownerKey struct{}

// Authenticated checks the bearer token and the 'owner' role, and exposes the
// token credential as the request owner.
func Authenticated(secret string) func(http.Handler) http.Handler {
	return chi.Chain(oauth.Authorize(secret, nil), owner).Handler
}

func owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := r.Context().Value(oauth.ClaimsContext).(map[string]string)
		credential, _ := r.Context().Value(oauth.CredentialContext).(string)

		isOwner := false
		if rolesClaim, ok := claims["roles"]; ok {
			for _, role := range strings.Split(rolesClaim, ",") {
				if role == "owner" {
					isOwner = true
					break
				}
			}
		}

		if !isOwner || credential == "" {
			httpx.LogStatus(w, http.StatusForbidden, log.DebugLevel, "auth.owner")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, credential)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Owner returns the authenticated user of the request.
func Owner(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

// CookieAuth lets browser clients authenticate with access_token and
// refresh_token cookies. A request without an Authorization header gets one
// from the access_token cookie; when that is rejected, the refresh_token
// cookie is traded for a new pair and the request is retried once.
func CookieAuth(bearerServer *oauth.BearerServer) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("authorization") != "" {
				h.ServeHTTP(w, r)
				return
			}

			token, err := r.Cookie("access_token")
			if err != nil && !errors.Is(err, http.ErrNoCookie) {
				httpx.LogInternalError(w, "auth.cookie.access_token", err)
				return
			}
			if err == nil {
				r.Header.Set("authorization", "Bearer "+token.Value)
				buf := httpx.NewResponseBuffer()
				h.ServeHTTP(buf, r)
				if buf.Status() != http.StatusUnauthorized {
					buf.Flush(w)
					return
				}
			}

			refreshToken, err := r.Cookie("refresh_token")
			if err != nil {
				if !errors.Is(err, http.ErrNoCookie) {
					httpx.LogInternalError(w, "auth.cookie.refresh_token", err)
					return
				}
				httpx.WriteError(w, r, apperr.New(apperr.Unauthorized, "auth.cookie.missing", "authentication required", nil))
				return
			}

			tokens, status := refresh(bearerServer, refreshToken.Value)
			if status != http.StatusOK {
				clearCookie(w, "access_token")
				clearCookie(w, "refresh_token")
				httpx.WriteError(w, r, apperr.New(apperr.Unauthorized, "auth.cookie.refresh", "session expired", nil))
				return
			}

			http.SetCookie(w, &http.Cookie{
				Path:     "/",
				Name:     "access_token",
				Value:    tokens.AccessToken,
				MaxAge:   int(tokens.ExpiresIn),
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})
			http.SetCookie(w, &http.Cookie{
				Path:     "/",
				Name:     "refresh_token",
				Value:    tokens.RefreshToken,
				MaxAge:   60 * 60 * 24 * 365,
				HttpOnly: true,
				SameSite: http.SameSiteStrictMode,
			})

			r.Header.Set("authorization", "Bearer "+tokens.AccessToken)
			h.ServeHTTP(w, r)
		})
	}
}

type tokenPair struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    float64 `json:"expires_in"`
}

// refresh runs a refresh_token grant against the bearer server.
func refresh(bearerServer *oauth.BearerServer, refreshToken string) (tokenPair, int) {
	var tokens tokenPair
	resp := RefreshGrant(bearerServer, refreshToken)
	if resp.Status() != http.StatusOK {
		return tokens, resp.Status()
	}
	if err := json.Unmarshal(resp.Body(), &tokens); err != nil {
		log.Errorf("auth.cookie.refresh.parse: %s", err)
		return tokens, http.StatusInternalServerError
	}
	return tokens, http.StatusOK
}

// RefreshGrant buffers the bearer server's answer to a refresh_token grant.
func RefreshGrant(bearerServer *oauth.BearerServer, refreshToken string) *httpx.ResponseBuffer {
	body := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}.Encode()

	resp := httpx.NewResponseBuffer()
	req, err := http.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if err != nil {
		resp.WriteHeader(http.StatusInternalServerError)
		return resp
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("content-length", strconv.Itoa(len(body)))

	bearerServer.UserCredentials(resp, req)
	return resp
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Path:   "/",
		Name:   name,
		Value:  "",
		MaxAge: -1,
	})
}
