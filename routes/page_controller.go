package routes

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/mbolis/matrix-survey/app"
	"github.com/mbolis/matrix-survey/httpx"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/responses"
)

//go:embed templates/*.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

type indexRow struct {
	Question  model.Question
	PastKey   string
	NowKey    string
	Past, Now int
}

type indexPage struct {
	Rows    []indexRow
	Ratings []int
	Shared  bool
	Status  responses.Status
	// SavedDelay is how long the page waits before asking again for the
	// save status, in milliseconds.
	SavedDelay int64
}

func Index(app app.App) http.HandlerFunc {
	ratings := make([]int, 0, model.MaxRating-model.MinRating+1)
	for v := model.MinRating; v <= model.MaxRating; v++ {
		ratings = append(ratings, v)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		s, err := openSurvey(app, r, r.URL.Query())
		if err != nil {
			httpx.LogInternalError(w, r, "survey.open", err)
			return
		}

		page := indexPage{
			Ratings: ratings,
			Shared:  s.Shared(),
			Status:  s.Responses.Status(),

			SavedDelay: app.SavedDelay.Milliseconds(),
		}
		for _, q := range s.Questions.List() {
			row := indexRow{
				Question: q,
				PastKey:  model.ResponseKey(model.PhasePast, q.ID),
				NowKey:   model.ResponseKey(model.PhaseNow, q.ID),
			}
			row.Past, _ = s.Responses.Get(row.PastKey)
			row.Now, _ = s.Responses.Get(row.NowKey)
			page.Rows = append(page.Rows, row)
		}

		var buf bytes.Buffer
		err = indexTemplate.Execute(&buf, page)
		if err != nil {
			httpx.LogInternalError(w, r, "page.render", err)
			return
		}
		w.Header().Set("content-type", "text/html; charset=utf-8")
		buf.WriteTo(w)
	}
}
