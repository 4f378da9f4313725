package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbolis/matrix-survey/app"
	"github.com/mbolis/matrix-survey/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.RequestID, middlewares.AccessLog, middleware.Recoverer)

	root.Get("/healthz", Healthz(app))

	root.Group(func(r chi.Router) {
		r.Use(middlewares.Client)

		r.Get("/", Index(app))
		r.Mount("/api", apiRouter(app))
	})

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Get("/questions", GetQuestions(app))
	api.Get("/responses", GetResponses(app))
	api.Put("/responses/{key}", PutResponse(app))
	api.Post("/submissions", PostSubmission(app))

	api.Route("/admin", func(r chi.Router) {
		// CRUD questions
		r.Get("/questions", ListQuestions(app))
		r.Post("/questions", AddQuestion(app))
		r.Patch(`/questions/{index:^\d+$}`, UpdateQuestion(app))
		r.Delete(`/questions/{index:^\d+$}`, DeleteQuestion(app))
		r.Post("/questions/reset", ResetQuestions(app))

		r.Get("/webhook", GetWebhook(app))
		r.Put("/webhook", PutWebhook(app))
		r.Get("/share-link", GetShareLink(app))
	})

	return api
}
