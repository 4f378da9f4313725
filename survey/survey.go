// Package survey holds the state of one respondent's survey session and the
// operations the web layer performs on it.
package survey

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/questions"
	"github.com/mbolis/matrix-survey/reconcile"
	"github.com/mbolis/matrix-survey/responses"
	"github.com/mbolis/matrix-survey/sharelink"
	"github.com/mbolis/matrix-survey/sink"
	"github.com/mbolis/matrix-survey/storage"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrIncomplete  = errors.New("every question needs a past and a now rating")
	ErrMissingName = errors.New("missing user name")
)

// IncompleteError lists the ratings still missing.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s (missing %s)", ErrIncomplete, strings.Join(e.Missing, ", "))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

const DefaultDisplayDelay = 600 * time.Millisecond

type Runner interface {
	Run(ctx context.Context, p *model.Payload, questions []model.Question, endpoint string) (reconcile.Outcome, error)
}

// Deps are the capabilities a Controller works with.
type Deps struct {
	Local     storage.Store
	Session   storage.Store
	Indicator *responses.Indicator
	Defaults  []model.Question
	Workflow  Runner

	// WebhookURL is the endpoint fixed by configuration; it wins over
	// any other setting.
	WebhookURL string
	// DisplayDelay is waited before a successful submission is reported.
	DisplayDelay time.Duration

	Now   func() time.Time
	Sleep func(context.Context, time.Duration)
}

// Controller owns the question list, the cached answers and the webhook
// settings of a single client.
type Controller struct {
	deps Deps

	Questions *questions.Store
	Responses *responses.Cache

	shared         bool
	sessionWebhook string
	localWebhook   string
}

// Open loads the state of a client. Query holds the parameters of a shared
// link, if the survey was opened through one.
func Open(ctx context.Context, deps Deps, query url.Values) (*Controller, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}

	c := &Controller{
		deps:      deps,
		Questions: questions.New(deps.Local, deps.Defaults),
		Responses: responses.New(deps.Local, deps.Indicator),
	}

	shared := query.Get(sharelink.ParamQuestions)
	c.shared = shared != ""
	if _, err := c.Questions.Load(ctx, shared); err != nil {
		return nil, err
	}

	if c.shared {
		if endpoint, ok := sharelink.DecodeEndpoint(query.Get(sharelink.ParamWebhook)); ok {
			if !sink.ValidEndpoint(endpoint) {
				log.WithField("endpoint", endpoint).Warn("survey.open: ignoring invalid shared webhook")
			} else if err := deps.Session.Save(ctx, storage.KeySessionWebhook, endpoint); err != nil {
				log.WithError(err).Warn("survey.open: cannot keep shared webhook")
			}
		}
	}

	var err error
	c.sessionWebhook, _, err = deps.Session.Load(ctx, storage.KeySessionWebhook)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "survey.open.session_webhook")
	}
	c.localWebhook, _, err = deps.Local.Load(ctx, storage.KeyWebhook)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "survey.open.local_webhook")
	}
	if c.sessionWebhook != "" && !sink.ValidEndpoint(c.sessionWebhook) {
		c.sessionWebhook = ""
	}
	if c.localWebhook != "" && !sink.ValidEndpoint(c.localWebhook) {
		c.localWebhook = ""
	}

	if err := c.Responses.Load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Shared tells whether the questions came from a shared link.
func (c *Controller) Shared() bool {
	return c.shared
}

// Endpoint is the webhook submissions are mirrored to.
func (c *Controller) Endpoint() string {
	return sink.Resolve(c.deps.WebhookURL, c.sessionWebhook, c.localWebhook)
}

// LocalWebhook is the webhook as the admin panel shows it.
func (c *Controller) LocalWebhook() string {
	if c.localWebhook != "" {
		return c.localWebhook
	}
	return c.deps.WebhookURL
}

// SetWebhook saves the local webhook; a blank endpoint removes it. Anything
// but an absolute http(s) URL fails with sink.ErrInvalidEndpoint.
func (c *Controller) SetWebhook(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint != "" && !sink.ValidEndpoint(endpoint) {
		return sink.ErrInvalidEndpoint
	}

	var err error
	if endpoint == "" {
		err = c.deps.Local.Remove(ctx, storage.KeyWebhook)
	} else {
		err = c.deps.Local.Save(ctx, storage.KeyWebhook, endpoint)
	}
	if err != nil {
		return pkgerrors.Wrap(err, "survey.set_webhook")
	}
	c.localWebhook = endpoint
	return nil
}

// ShareLink is a link to base that opens the current questions, carrying the
// locally saved webhook along.
func (c *Controller) ShareLink(base string) string {
	return sharelink.Link(base, c.Questions.List(), c.localWebhook)
}

// Submit validates the cached answers, then stores and mirrors them. The
// cache is cleared once the submission went through; it is left alone when
// validation fails or the primary store is not configured.
//
// hasName tells whether the form asked for a name at all.
func (c *Controller) Submit(ctx context.Context, name string, hasName bool) (reconcile.Outcome, error) {
	list := c.Questions.List()
	if missing := c.Responses.Missing(list); len(missing) > 0 {
		return reconcile.Outcome{}, &IncompleteError{missing}
	}

	name = strings.TrimSpace(name)
	switch {
	case !hasName:
		name = model.AnonymousUser
	case name == "":
		return reconcile.Outcome{}, ErrMissingName
	}

	p := model.BuildPayload(list, c.Responses.All(), name, c.deps.Now())
	out, err := c.deps.Workflow.Run(ctx, p, list, c.Endpoint())
	if err != nil {
		return out, err
	}

	c.deps.Sleep(ctx, c.deps.DisplayDelay)
	if err := c.Responses.Clear(ctx); err != nil {
		log.WithError(err).Error("survey.submit.clear")
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
