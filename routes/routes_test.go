package routes

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/mbolis/matrix-survey/app"
	"github.com/mbolis/matrix-survey/config"
	"github.com/mbolis/matrix-survey/database"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/reconcile"
	"github.com/mbolis/matrix-survey/records"
	"github.com/mbolis/matrix-survey/responses"
	"github.com/mbolis/matrix-survey/sharelink"
	"github.com/mbolis/matrix-survey/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testQuestions = []model.Question{
	{ID: "q1", Category: "Foco", Subtext: "Concentración"},
	{ID: "q2", Category: "Energía"},
}

// sheet stands in for the spreadsheet webhook.
type sheet struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (s *sheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p map[string]any
	if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.mu.Unlock()
	}
}

func (s *sheet) received() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any{}, s.payloads...)
}

type env struct {
	srv      *httptest.Server
	client   *http.Client
	records  *records.SQLStore
	sheet    *sheet
	sheetURL string
}

func newEnv(t *testing.T, withDB bool, opts ...func(*app.App)) *env {
	t.Helper()

	sh := &sheet{}
	sheetSrv := httptest.NewServer(sh)
	t.Cleanup(sheetSrv.Close)

	var db *sql.DB
	var store storage.Provider = storage.NewMemoryProvider()
	if withDB {
		var err error
		db, err = database.Open(filepath.Join(t.TempDir(), "survey.sqlite"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store = storage.SQLProvider{DB: db}
	}
	recs := records.NewSQLStore(db)

	a := app.App{
		Config:     config.Config{RetryAttempts: 3},
		Storage:    store,
		Locks:      storage.NewLocks(),
		Records:    recs,
		Workflow:   reconcile.New(recs),
		Indicators: responses.NewIndicators(0),
		Defaults:   testQuestions,
	}
	for _, opt := range opts {
		opt(&a)
	}

	srv := httptest.NewServer(Wire(a))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &env{
		srv:      srv,
		client:   &http.Client{Jar: jar},
		records:  recs,
		sheet:    sh,
		sheetURL: sheetSrv.URL,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}

	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("content-type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func (e *env) page(t *testing.T, path string) string {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func (e *env) answerAll(t *testing.T, query string) {
	t.Helper()
	for _, q := range testQuestions {
		status, _ := e.do(t, http.MethodPut, "/api/responses/past_"+q.ID+query, map[string]int{"value": 2})
		require.Equal(t, http.StatusOK, status)
		status, _ = e.do(t, http.MethodPut, "/api/responses/now_"+q.ID+query, map[string]int{"value": 4})
		require.Equal(t, http.StatusOK, status)
	}
}

func TestIndexPage(t *testing.T) {
	e := newEnv(t, true)

	body := e.page(t, "/")
	assert.Contains(t, body, "Foco")
	assert.Contains(t, body, "Concentración")
	assert.Contains(t, body, `name="past_q1"`)
	assert.Contains(t, body, `class="gear"`)
	assert.Contains(t, body, `title="Administrar (API JSON)">&#9881; API</a>`)

	shared := sharelink.Encode([]model.Question{{ID: "s1", Category: "Compartida"}})
	body = e.page(t, "/?d="+shared)
	assert.Contains(t, body, "Compartida")
	assert.NotContains(t, body, "Foco")
	assert.NotContains(t, body, `class="gear"`)
}

func TestIndexPageShowsCachedAnswers(t *testing.T) {
	e := newEnv(t, true)
	status, _ := e.do(t, http.MethodPut, "/api/responses/now_q2", map[string]int{"value": 5})
	require.Equal(t, http.StatusOK, status)

	body := e.page(t, "/")
	assert.Contains(t, body, `name="now_q2" value="5" checked`)
}

func TestQuestions(t *testing.T) {
	e := newEnv(t, true)

	status, body := e.do(t, http.MethodGet, "/api/questions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "default", body["source"])
	assert.Equal(t, false, body["shared"])
	assert.Len(t, body["questions"], 2)
}

func TestPutResponse(t *testing.T) {
	e := newEnv(t, true)

	status, body := e.do(t, http.MethodPut, "/api/responses/past_q1", map[string]int{"value": 3})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, []any{"saving", "saved"}, body["status"])

	status, body = e.do(t, http.MethodGet, "/api/responses", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"past_q1": float64(3)}, body["responses"])
}

func TestPutResponseStatusTurnsSaved(t *testing.T) {
	var mu sync.Mutex
	var timers []func()
	e := newEnv(t, true, func(a *app.App) {
		a.SavedDelay = 750 * time.Millisecond
		a.Indicators = responses.NewIndicators(a.SavedDelay).WithAfterFunc(func(_ time.Duration, f func()) {
			mu.Lock()
			defer mu.Unlock()
			timers = append(timers, f)
		})
	})

	assert.Regexp(t, `var savedDelay = \s*750\s*;`, e.page(t, "/"))

	status, body := e.do(t, http.MethodPut, "/api/responses/past_q1", map[string]int{"value": 3})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "saving", body["status"])

	// what the page polls for until the delay is over
	_, body = e.do(t, http.MethodGet, "/api/responses", nil)
	assert.Equal(t, "saving", body["status"])

	mu.Lock()
	fire := timers
	timers = nil
	mu.Unlock()
	require.Len(t, fire, 1)
	fire[0]()

	_, body = e.do(t, http.MethodGet, "/api/responses", nil)
	assert.Equal(t, "saved", body["status"])
}

func TestConcurrentPutResponses(t *testing.T) {
	e := newEnv(t, true)
	// settle the client cookies first
	e.page(t, "/")

	keys := []string{"past_q1", "now_q1", "past_q2", "now_q2"}
	for round := 1; round <= 5; round++ {
		var wg sync.WaitGroup
		for _, key := range keys {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				req, err := http.NewRequest(http.MethodPut, e.srv.URL+"/api/responses/"+key, strings.NewReader(`{"value":`+strconv.Itoa(round)+`}`))
				if !assert.NoError(t, err) {
					return
				}
				req.Header.Set("content-type", "application/json")
				resp, err := e.client.Do(req)
				if !assert.NoError(t, err) {
					return
				}
				resp.Body.Close()
				assert.Equal(t, http.StatusOK, resp.StatusCode, key)
			}(key)
		}
		wg.Wait()

		_, body := e.do(t, http.MethodGet, "/api/responses", nil)
		want := map[string]any{}
		for _, key := range keys {
			want[key] = float64(round)
		}
		require.Equal(t, want, body["responses"], "round %d", round)
	}
}

func TestPutResponseRejectsBadInput(t *testing.T) {
	e := newEnv(t, true)

	status, _ := e.do(t, http.MethodPut, "/api/responses/past_q1", map[string]int{"value": 6})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPut, "/api/responses/later_q1", map[string]int{"value": 3})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := e.do(t, http.MethodGet, "/api/responses", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["responses"])
}

func TestClientsAreIsolated(t *testing.T) {
	e := newEnv(t, true)
	status, _ := e.do(t, http.MethodPut, "/api/responses/past_q1", map[string]int{"value": 3})
	require.Equal(t, http.StatusOK, status)

	other := *e
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other.client = &http.Client{Jar: jar}

	_, body := other.do(t, http.MethodGet, "/api/responses", nil)
	assert.Empty(t, body["responses"])
}

func TestSubmit(t *testing.T) {
	e := newEnv(t, true)
	status, _ := e.do(t, http.MethodPut, "/api/admin/webhook", map[string]string{"webhook": e.sheetURL})
	require.Equal(t, http.StatusOK, status)
	e.answerAll(t, "")

	status, body := e.do(t, http.MethodPost, "/api/submissions", map[string]string{"user_name": "Ana"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["mirrored"])
	assert.Equal(t, false, body["degraded"])

	record, ok := body["record"].(map[string]any)
	require.True(t, ok)
	rec, err := e.records.Get(context.Background(), record["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "Ana", rec.UserName)
	assert.True(t, rec.Synced)
	require.NotNil(t, rec.Slots[1].Diff)
	assert.Equal(t, 2, *rec.Slots[1].Diff)

	received := e.sheet.received()
	require.Len(t, received, 1)
	assert.Equal(t, "Ana", received[0]["Usuario"])
	assert.EqualValues(t, 2, received[0]["Energía (Diferencia)"])

	// the answers were cleared
	_, body = e.do(t, http.MethodGet, "/api/responses", nil)
	assert.Empty(t, body["responses"])
}

func TestSubmitIncomplete(t *testing.T) {
	e := newEnv(t, true)
	status, _ := e.do(t, http.MethodPut, "/api/responses/past_q1", map[string]int{"value": 3})
	require.Equal(t, http.StatusOK, status)

	status, body := e.do(t, http.MethodPost, "/api/submissions", map[string]string{"user_name": "Ana"})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "submission.incomplete", body["code"])
	assert.ElementsMatch(t, []any{"now_q1", "past_q2", "now_q2"}, body["missing"])
}

func TestSubmitMissingName(t *testing.T) {
	e := newEnv(t, true)
	e.answerAll(t, "")

	status, body := e.do(t, http.MethodPost, "/api/submissions", map[string]string{"user_name": "  "})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "submission.missing_name", body["code"])
}

func TestSubmitWithoutNameField(t *testing.T) {
	e := newEnv(t, true)
	e.answerAll(t, "")

	status, body := e.do(t, http.MethodPost, "/api/submissions", map[string]string{})
	require.Equal(t, http.StatusCreated, status)
	record := body["record"].(map[string]any)
	assert.Equal(t, model.AnonymousUser, record["user_name"])
}

func TestSubmitNotConfigured(t *testing.T) {
	e := newEnv(t, false)
	e.answerAll(t, "")

	status, body := e.do(t, http.MethodPost, "/api/submissions", map[string]string{"user_name": "Ana"})
	require.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "submission.not_configured", body["code"])

	// the form stays filled in
	_, body = e.do(t, http.MethodGet, "/api/responses", nil)
	assert.Len(t, body["responses"], 4)
}

func TestSubmitSharedLink(t *testing.T) {
	e := newEnv(t, true)
	shared := []model.Question{{ID: "s1", Category: "Compartida"}}
	query := "?" + sharelink.ParamQuestions + "=" + sharelink.Encode(shared) +
		"&" + sharelink.ParamWebhook + "=" + sharelink.EncodeEndpoint(e.sheetURL)

	e.page(t, "/"+query)
	for _, key := range []string{"past_s1", "now_s1"} {
		status, _ := e.do(t, http.MethodPut, "/api/responses/"+key+query, map[string]int{"value": 1})
		require.Equal(t, http.StatusOK, status)
	}

	status, body := e.do(t, http.MethodPost, "/api/submissions"+query, map[string]string{"user_name": "Luis"})
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, true, body["mirrored"])

	received := e.sheet.received()
	require.Len(t, received, 1)
	assert.EqualValues(t, 0, received[0]["Compartida (Diferencia)"])
}

func TestAdminQuestions(t *testing.T) {
	e := newEnv(t, true)

	status, body := e.do(t, http.MethodPost, "/api/admin/questions", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Nueva Categoría", body["category"])

	status, body = e.do(t, http.MethodPatch, "/api/admin/questions/2", map[string]string{"field": "category", "value": "Ocio"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "local", body["source"])
	list := body["questions"].([]any)
	require.Len(t, list, 3)
	assert.Equal(t, "Ocio", list[2].(map[string]any)["category"])

	status, _ = e.do(t, http.MethodPatch, "/api/admin/questions/0", map[string]string{"field": "id", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodDelete, "/api/admin/questions/0", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = e.do(t, http.MethodDelete, "/api/admin/questions/7", nil)
	assert.Equal(t, http.StatusNotFound, status)

	_, body = e.do(t, http.MethodGet, "/api/questions", nil)
	assert.Len(t, body["questions"], 2)
	assert.Equal(t, "local", body["source"])

	status, _ = e.do(t, http.MethodPost, "/api/admin/questions/reset", map[string]bool{"confirm": false})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = e.do(t, http.MethodPost, "/api/admin/questions/reset", map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "default", body["source"])
	assert.Len(t, body["questions"], 2)
}

func TestAdminWebhookAndShareLink(t *testing.T) {
	e := newEnv(t, true)

	status, _ := e.do(t, http.MethodPut, "/api/admin/webhook", map[string]string{"webhook": "not a url"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := e.do(t, http.MethodPut, "/api/admin/webhook", map[string]string{"webhook": "https://hooks.example/exec"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://hooks.example/exec", body["webhook"])
	assert.Equal(t, false, body["fixed"])

	status, body = e.do(t, http.MethodGet, "/api/admin/share-link", nil)
	require.Equal(t, http.StatusOK, status)
	link := body["link"].(string)
	assert.True(t, strings.HasPrefix(link, e.srv.URL+"/?"), link)

	// a fresh client opening the link gets the list and the webhook
	other := *e
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	other.client = &http.Client{Jar: jar}

	page := other.page(t, strings.TrimPrefix(link, e.srv.URL))
	assert.Contains(t, page, "Foco")
	assert.NotContains(t, page, `class="gear"`)
}

func TestHealthz(t *testing.T) {
	status, body := newEnv(t, true).do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	status, _ = newEnv(t, false).do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
