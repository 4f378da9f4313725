package routes

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/mbolis/matrix-survey/app"
	"github.com/mbolis/matrix-survey/httpx"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/questions"
	"github.com/mbolis/matrix-survey/sink"
	"github.com/mbolis/matrix-survey/survey"
)

// The admin panel always edits the client's own list, never a shared one.
func openAdmin(app app.App, w http.ResponseWriter, r *http.Request) (*survey.Controller, bool) {
	s, err := openSurvey(app, r, url.Values{})
	if err != nil {
		httpx.LogInternalError(w, r, "survey.open", err)
		return nil, false
	}
	return s, true
}

func renderQuestions(w http.ResponseWriter, r *http.Request, s *survey.Controller) {
	render.JSON(w, r, map[string]any{
		"questions": s.Questions.List(),
		"source":    s.Questions.Source(),
	})
}

func ListQuestions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}
		renderQuestions(w, r, s)
	}
}

func AddQuestion(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer lockClient(app, r)()
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}

		q, err := s.Questions.Add(r.Context())
		if err != nil {
			httpx.LogInternalError(w, r, "db.add_question", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, q)
	}
}

type questionPatch struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func UpdateQuestion(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.index")
			return
		}

		patch := questionPatch{}
		err = render.DecodeJSON(r.Body, &patch)
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		defer lockClient(app, r)()
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}

		err = s.Questions.Update(r.Context(), index, patch.Field, patch.Value)
		switch {
		case errors.Is(err, questions.ErrIndexOutOfRange):
			httpx.LogNotFound(w, r, "update_question", index)
			return
		case errors.Is(err, questions.ErrUnknownField):
			httpx.LogStatusMsg(w, r, http.StatusBadRequest, log.DebugLevel, "update_question.field", "unknown field %q", patch.Field)
			return
		case err != nil:
			httpx.LogInternalError(w, r, "db.update_question", err)
			return
		}

		renderQuestions(w, r, s)
	}
}

func DeleteQuestion(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.index")
			return
		}

		defer lockClient(app, r)()
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}

		err = s.Questions.Remove(r.Context(), index)
		switch {
		case errors.Is(err, questions.ErrIndexOutOfRange):
			httpx.LogNotFound(w, r, "delete_question", index)
			return
		case err != nil:
			httpx.LogInternalError(w, r, "db.delete_question", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

func ResetQuestions(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := resetRequest{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		defer lockClient(app, r)()
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}

		err = s.Questions.ResetToDefault(r.Context(), body.Confirm)
		switch {
		case errors.Is(err, questions.ErrNotConfirmed):
			httpx.LogStatusMsg(w, r, http.StatusBadRequest, log.DebugLevel, "reset_questions", "reset needs confirmation")
			return
		case err != nil:
			httpx.LogInternalError(w, r, "db.reset_questions", err)
			return
		}

		renderQuestions(w, r, s)
	}
}

func renderWebhook(w http.ResponseWriter, r *http.Request, app app.App, s *survey.Controller) {
	render.JSON(w, r, map[string]any{
		"webhook":   s.LocalWebhook(),
		"effective": s.Endpoint(),
		"fixed":     app.WebhookURL != "",
	})
}

func GetWebhook(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}
		renderWebhook(w, r, app, s)
	}
}

type webhookRequest struct {
	Webhook string `json:"webhook"`
}

func PutWebhook(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := webhookRequest{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, r, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		defer lockClient(app, r)()
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}

		err = s.SetWebhook(r.Context(), body.Webhook)
		switch {
		case errors.Is(err, sink.ErrInvalidEndpoint):
			httpx.LogStatusMsg(w, r, http.StatusBadRequest, log.DebugLevel, "set_webhook", "invalid webhook URL %q", strings.TrimSpace(body.Webhook))
			return
		case err != nil:
			httpx.LogInternalError(w, r, "db.set_webhook", err)
			return
		}

		renderWebhook(w, r, app, s)
	}
}

func GetShareLink(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := openAdmin(app, w, r)
		if !ok {
			return
		}
		render.JSON(w, r, map[string]any{
			"link": s.ShareLink(baseURL(app, r)),
		})
	}
}

// baseURL is the configured public URL or, failing that, the one the
// request came in on.
func baseURL(app app.App, r *http.Request) string {
	if app.BaseURL != "" {
		return app.BaseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/"
}
