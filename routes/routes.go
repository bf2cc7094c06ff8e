package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbolis/intelliform/app"
	"github.com/mbolis/intelliform/log"
	"github.com/mbolis/intelliform/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log.Logger, NoColor: true}),
		middleware.Recoverer,
	)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()
	guard := newIPGuard()

	api.Get(`/forms/{id:^\d+$}`, PublicGetFormById(app, guard))
	api.Post(`/forms/{id:^\d+$}/submissions`, PublicSubmitForm(app, guard))

	// conversational sessions
	api.Post(`/forms/{id:^\d+$}/sessions`, StartSession(app, guard))
	api.Route("/sessions/{sid}", func(r chi.Router) {
		r.Get("/", GetSession(app))
		r.Post("/answer", AnswerSession(app))
		r.Post("/messages", MessageSession(app))
		r.Post("/submit", SubmitSession(app))
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.CookieAuth(app.BearerServer), middlewares.Authenticated(app.Config.TokenSecret))

		// CRUD form
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get(`/forms/{id:^\d+$}`, GetFormById(app))
		r.Put(`/forms/{id:^\d+$}`, UpdateForm(app))
		r.Delete(`/forms/{id:^\d+$}`, DeleteForm(app))
		r.Put(`/forms/{id:^\d+$}/published`, PublishForm(app))

		r.Get(`/forms/{id:^\d+$}/submissions`, GetFormSubmissions(app))
		r.Get(`/submissions/{id:^\d+$}`, GetSubmissionById(app))

		// problems
		r.Post(`/submissions/{id:^\d+$}/problems/extract`, ExtractSubmissionProblems(app))
		r.Post(`/forms/{id:^\d+$}/problems/extract`, ExtractFormProblems(app))
		r.Get("/problem-groups", ListProblemGroups(app))
		r.Get(`/forms/{id:^\d+$}/problem-groups`, ListFormProblemGroups(app))
		r.Post("/problem-groups/resolve", ResolveProblemGroup(app))
		r.Put(`/submissions/{id:^\d+$}/problems/{pid}`, ResolveProblem(app))
	})

	api.Post("/register", Register(app))
	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))

	return api
}
