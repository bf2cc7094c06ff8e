package routes

import (
	"context"
	"fmt"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/database"
	"github.com/mbolis/intelliform/model"
)

type ipCheck struct {
	acquire bool
	key     string
	result  chan<- bool
}

// ipGuard tracks (form, ip) pairs with a submission in flight, so two
// concurrent requests cannot both pass the already-submitted check.
type ipGuard struct {
	checks chan ipCheck
}

func newIPGuard() *ipGuard {
	g := &ipGuard{checks: make(chan ipCheck)}
	go func() {
		inFlight := make(map[string]bool)

		for req := range g.checks {
			if req.acquire {
				req.result <- !inFlight[req.key]
				inFlight[req.key] = true
			} else {
				delete(inFlight, req.key)
			}
		}
	}()
	return g
}

func (g *ipGuard) acquire(key string) bool {
	done := make(chan bool)
	g.checks <- ipCheck{true, key, done}
	return <-done
}

func (g *ipGuard) release(key string) {
	g.checks <- ipCheck{false, key, nil}
}

// writer persists submissions of form coming from ip, enforcing the form's
// one-response-per-IP setting.
func (g *ipGuard) writer(store *database.Store, form model.Form, ip string) *guardedWriter {
	return &guardedWriter{guard: g, store: store, form: form, ip: ip}
}

type guardedWriter struct {
	guard *ipGuard
	store *database.Store
	form  model.Form
	ip    string
}

var errAlreadySubmitted = apperr.NewConflict("ip.already_submitted", "a response from this address was already recorded")

// Check reports the already-submitted conflict early, before any answer is given.
func (w *guardedWriter) Check(ctx context.Context) error {
	if !w.form.Settings.OneResponsePerIP || w.ip == "" {
		return nil
	}
	submitted, err := w.store.HasSubmissionFromIP(ctx, w.form.ID, w.ip)
	if err != nil {
		return err
	}
	if submitted {
		return errAlreadySubmitted
	}
	return nil
}

func (w *guardedWriter) CreateSubmission(ctx context.Context, sub model.Submission) (int, error) {
	if !w.form.Settings.OneResponsePerIP || w.ip == "" {
		return w.store.CreateSubmission(ctx, sub)
	}

	key := fmt.Sprintf("%d/%s", w.form.ID, w.ip)
	if !w.guard.acquire(key) {
		return 0, errAlreadySubmitted
	}
	defer w.guard.release(key)

	if err := w.Check(ctx); err != nil {
		return 0, err
	}
	return w.store.CreateSubmission(ctx, sub)
}
