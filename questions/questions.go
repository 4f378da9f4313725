// Package questions manages the ordered question list shown by the survey.
package questions

import (
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/sharelink"
	"github.com/mbolis/matrix-survey/storage"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrIndexOutOfRange = errors.New("question index out of range")
	ErrUnknownField    = errors.New("unknown question field")
	ErrNotConfirmed    = errors.New("reset not confirmed")
)

// Source tells where the current list was loaded from.
type Source string

const (
	SourceShared  Source = "shared"
	SourceLocal   Source = "local"
	SourceDefault Source = "default"
)

const (
	FieldCategory = "category"
	FieldSubtext  = "subtext"

	newCategory = "Nueva Categoría"
	newSubtext  = "Descripción"
)

// Defaults is the built-in question list.
var Defaults = []model.Question{
	{ID: "q1", Category: "Foco", Subtext: "Capacidad de concentrarte en lo importante"},
	{ID: "q2", Category: "Energía", Subtext: "Vitalidad a lo largo del día"},
	{ID: "q3", Category: "Descanso", Subtext: "Calidad y cantidad de sueño"},
	{ID: "q4", Category: "Relaciones", Subtext: "Conexión con familia, pareja y amigos"},
	{ID: "q5", Category: "Trabajo", Subtext: "Satisfacción con tu actividad profesional"},
	{ID: "q6", Category: "Salud física", Subtext: "Alimentación, ejercicio y cuidado del cuerpo"},
	{ID: "q7", Category: "Estado de ánimo", Subtext: "Cómo te sientes emocionalmente"},
	{ID: "q8", Category: "Propósito", Subtext: "Sentido y dirección en tu vida"},
}

type Store struct {
	local    storage.Store
	defaults []model.Question
	list     []model.Question
	source   Source

	newID func() string
}

func New(local storage.Store, defaults []model.Question) *Store {
	return &Store{
		local:    local,
		defaults: defaults,
		newID:    defaultID,
	}
}

func defaultID() string {
	return "q" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Load fills the list from, in order of precedence, the shared token, the
// locally saved override or the defaults. A shared token that cannot be
// decoded counts as no data.
func (s *Store) Load(ctx context.Context, shared string) (Source, error) {
	if shared != "" {
		if list, ok := sharelink.DecodeQuestions(shared); ok {
			s.set(list, SourceShared)
		} else {
			log.Debug("questions.load: undecodable shared list, using defaults")
			s.set(s.defaults, SourceDefault)
		}
		return s.source, nil
	}

	raw, ok, err := s.local.Load(ctx, storage.KeyAdminQuestions)
	if err != nil {
		return "", pkgerrors.Wrap(err, "questions.load")
	}
	if ok {
		var list []model.Question
		if err := json.Unmarshal([]byte(raw), &list); err == nil && list != nil {
			s.set(list, SourceLocal)
			return s.source, nil
		}
		log.Warn("questions.load: discarding unreadable local override")
	}

	s.set(s.defaults, SourceDefault)
	return s.source, nil
}

func (s *Store) set(list []model.Question, source Source) {
	s.list = append([]model.Question{}, list...)
	s.source = source
}

func (s *Store) List() []model.Question {
	return append([]model.Question{}, s.list...)
}

func (s *Store) Source() Source {
	return s.source
}

func (s *Store) Add(ctx context.Context) (model.Question, error) {
	q := model.Question{
		ID:       s.newID(),
		Category: newCategory,
		Subtext:  newSubtext,
	}
	s.list = append(s.list, q)
	return q, s.persist(ctx)
}

func (s *Store) Remove(ctx context.Context, index int) error {
	if index < 0 || index >= len(s.list) {
		return ErrIndexOutOfRange
	}
	s.list = append(s.list[:index], s.list[index+1:]...)
	return s.persist(ctx)
}

func (s *Store) Update(ctx context.Context, index int, field, value string) error {
	if index < 0 || index >= len(s.list) {
		return ErrIndexOutOfRange
	}
	switch field {
	case FieldCategory:
		s.list[index].Category = value
	case FieldSubtext:
		s.list[index].Subtext = value
	default:
		return ErrUnknownField
	}
	return s.persist(ctx)
}

// ResetToDefault drops the local override. It refuses to run unless the
// operator confirmed it.
func (s *Store) ResetToDefault(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	s.set(s.defaults, SourceDefault)
	return pkgerrors.Wrap(s.local.Remove(ctx, storage.KeyAdminQuestions), "questions.reset")
}

// persist replaces the saved list with the current one.
func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.list)
	if err != nil {
		return pkgerrors.Wrap(err, "questions.persist.marshal")
	}
	if err := s.local.Save(ctx, storage.KeyAdminQuestions, string(data)); err != nil {
		return pkgerrors.Wrap(err, "questions.persist")
	}
	s.source = SourceLocal
	return nil
}
