package routes

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/mbolis/matrix-survey/app"
	"github.com/mbolis/matrix-survey/httpx"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/records"
	"github.com/mbolis/matrix-survey/responses"
	"github.com/mbolis/matrix-survey/routes/middlewares"
	"github.com/mbolis/matrix-survey/storage"
	"github.com/mbolis/matrix-survey/survey"
)

// openSurvey loads the survey state of the calling client. Query carries the
// shared link parameters, if any.
func openSurvey(app app.App, r *http.Request, query url.Values) (*survey.Controller, error) {
	ctx := r.Context()
	clientID := middlewares.ClientID(ctx)

	return survey.Open(ctx, survey.Deps{
		Local:        app.Storage.Store(storage.ScopeLocal, clientID),
		Session:      app.Storage.Store(storage.ScopeSession, middlewares.SessionID(ctx)),
		Indicator:    app.Indicators.For(clientID),
		Defaults:     app.Defaults,
		Workflow:     app.Workflow,
		WebhookURL:   app.WebhookURL,
		DisplayDelay: app.DisplayDelay,
	}, query)
}

// lockClient holds off other changes by the calling client until the
// returned function is called.
func lockClient(app app.App, r *http.Request) (unlock func()) {
	return app.Locks.Lock(middlewares.ClientID(r.Context()))
}

func GetQuestions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := openSurvey(app, r, r.URL.Query())
		if err != nil {
			httpx.LogInternalError(w, r, "survey.open", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"questions": s.Questions.List(),
			"source":    s.Questions.Source(),
			"shared":    s.Shared(),
		})
	}
}

func GetResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := openSurvey(app, r, r.URL.Query())
		if err != nil {
			httpx.LogInternalError(w, r, "survey.open", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"responses": s.Responses.All(),
			"status":    s.Responses.Status(),
		})
	}
}

type ratingRequest struct {
	Value int `json:"value"`
}

func PutResponse(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")
		if !responses.ValidKey(key) {
			httpx.LogStatusMsg(w, r, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.key", "invalid response key %q", key)
			return
		}

		body := ratingRequest{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		defer lockClient(app, r)()
		s, err := openSurvey(app, r, r.URL.Query())
		if err != nil {
			httpx.LogInternalError(w, r, "survey.open", err)
			return
		}

		err = s.Responses.Set(r.Context(), key, body.Value)
		switch {
		case errors.Is(err, responses.ErrInvalidRating):
			httpx.LogStatusMsg(w, r, http.StatusBadRequest, log.DebugLevel, "responses.set", "rating must be between %d and %d", model.MinRating, model.MaxRating)
			return
		case err != nil:
			httpx.LogInternalError(w, r, "db.save_responses", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"key":    key,
			"value":  body.Value,
			"status": s.Responses.Status(),
		})
	}
}

type submissionRequest struct {
	// UserName is nil when the form has no name field.
	UserName *string `json:"user_name"`
}

func PostSubmission(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := submissionRequest{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		defer lockClient(app, r)()
		s, err := openSurvey(app, r, r.URL.Query())
		if err != nil {
			httpx.LogInternalError(w, r, "survey.open", err)
			return
		}

		var name string
		if body.UserName != nil {
			name = *body.UserName
		}

		// a started submission runs to its end even if the client goes away
		ctx := context.WithoutCancel(r.Context())
		out, err := s.Submit(ctx, name, body.UserName != nil)

		var incomplete *survey.IncompleteError
		switch {
		case errors.As(err, &incomplete):
			httpx.LogResponse(w, r, http.StatusBadRequest, log.DebugLevel, httpx.ErrorResponse{
				Code:    "submission.incomplete",
				Message: "Por favor, responde todas las preguntas antes de enviar.",
				Missing: incomplete.Missing,
			})
			return
		case errors.Is(err, survey.ErrMissingName):
			httpx.LogStatusMsg(w, r, http.StatusBadRequest, log.DebugLevel, "submission.missing_name", "Por favor, ingresa tu nombre.")
			return
		case errors.Is(err, records.ErrNotConfigured):
			httpx.LogStatusMsg(w, r, http.StatusServiceUnavailable, log.ErrorLevel, "submission.not_configured", "Error al enviar la encuesta: %s", err)
			return
		case err != nil:
			httpx.LogInternalError(w, r, "submission", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, out)
	}
}

func Healthz(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := app.Records.Ping(r.Context())
		if err != nil {
			httpx.LogStatusMsg(w, r, http.StatusServiceUnavailable, log.WarnLevel, "healthz", "%s", err)
			return
		}
		render.JSON(w, r, map[string]any{"status": "ok"})
	}
}
