// Package responses caches the ratings a respondent has given so far.
package responses

import (
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/storage"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrInvalidKey    = errors.New("invalid response key")
	ErrInvalidRating = errors.New("rating out of range")
)

// Cache maps response keys ("past_q1", "now_q1", ...) to ratings.
type Cache struct {
	local     storage.Store
	indicator *Indicator
	answers   map[string]int
}

func New(local storage.Store, indicator *Indicator) *Cache {
	return &Cache{
		local:     local,
		indicator: indicator,
		answers:   map[string]int{},
	}
}

func (c *Cache) Load(ctx context.Context) error {
	raw, ok, err := c.local.Load(ctx, storage.KeyResponses)
	if err != nil {
		return pkgerrors.Wrap(err, "responses.load")
	}

	c.answers = map[string]int{}
	if !ok {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &c.answers); err != nil {
		log.Warn("responses.load: discarding unreadable cache:", err)
		c.answers = map[string]int{}
	}
	return nil
}

// ValidKey reports whether key has the "{phase}_{questionId}" shape.
func ValidKey(key string) bool {
	for _, phase := range model.Phases {
		if id, ok := strings.CutPrefix(key, string(phase)+"_"); ok && id != "" {
			return true
		}
	}
	return false
}

// Set records a rating and persists the whole cache right away.
func (c *Cache) Set(ctx context.Context, key string, value int) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}
	if value < model.MinRating || value > model.MaxRating {
		return ErrInvalidRating
	}

	c.answers[key] = value
	c.indicator.Saving()
	return c.persist(ctx)
}

func (c *Cache) Get(key string) (int, bool) {
	v, ok := c.answers[key]
	return v, ok
}

func (c *Cache) All() map[string]int {
	all := make(map[string]int, len(c.answers))
	for k, v := range c.answers {
		all[k] = v
	}
	return all
}

func (c *Cache) Len() int {
	return len(c.answers)
}

// Missing lists the keys of the ratings still needed to submit questions.
func (c *Cache) Missing(questions []model.Question) (missing []string) {
	for _, q := range questions {
		for _, phase := range model.Phases {
			key := model.ResponseKey(phase, q.ID)
			if _, ok := c.answers[key]; !ok {
				missing = append(missing, key)
			}
		}
	}
	return
}

func (c *Cache) Clear(ctx context.Context) error {
	c.answers = map[string]int{}
	return pkgerrors.Wrap(c.local.Remove(ctx, storage.KeyResponses), "responses.clear")
}

func (c *Cache) Status() Status {
	return c.indicator.Status()
}

func (c *Cache) persist(ctx context.Context) error {
	data, err := json.Marshal(c.answers)
	if err != nil {
		return pkgerrors.Wrap(err, "responses.persist.marshal")
	}
	return pkgerrors.Wrap(c.local.Save(ctx, storage.KeyResponses, string(data)), "responses.persist")
}
