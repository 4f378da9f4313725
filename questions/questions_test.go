package questions

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/sharelink"
	"github.com/mbolis/matrix-survey/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = []model.Question{
	{ID: "q1", Category: "Foco"},
	{ID: "q2", Category: "Energía"},
}

func saved(t *testing.T, local storage.Store) []model.Question {
	raw, ok, err := local.Load(context.Background(), storage.KeyAdminQuestions)
	require.NoError(t, err)
	require.True(t, ok)

	var list []model.Question
	require.NoError(t, json.Unmarshal([]byte(raw), &list))
	return list
}

func TestLoadPrecedence(t *testing.T) {
	ctx := context.Background()
	shared := []model.Question{{ID: "s1", Category: "Compartida"}}
	override := []model.Question{{ID: "l1", Category: "Local"}}

	local := storage.NewMemory()
	s := New(local, defaults)

	src, err := s.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, src)
	assert.Equal(t, defaults, s.List())

	data, _ := json.Marshal(override)
	require.NoError(t, local.Save(ctx, storage.KeyAdminQuestions, string(data)))

	src, err = s.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, src)
	assert.Equal(t, override, s.List())

	src, err = s.Load(ctx, sharelink.Encode(shared))
	require.NoError(t, err)
	assert.Equal(t, SourceShared, src)
	assert.Equal(t, shared, s.List())
}

func TestLoadBadSharedTokenFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	local := storage.NewMemory()
	require.NoError(t, local.Save(ctx, storage.KeyAdminQuestions, `[{"id":"l1","category":"Local"}]`))

	s := New(local, defaults)
	src, err := s.Load(ctx, "not-a-token!")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, src)
	assert.Equal(t, defaults, s.List())
}

func TestLoadUnreadableOverride(t *testing.T) {
	ctx := context.Background()
	local := storage.NewMemory()
	require.NoError(t, local.Save(ctx, storage.KeyAdminQuestions, `{broken`))

	s := New(local, defaults)
	src, err := s.Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, SourceDefault, src)
}

func TestCRUDPersists(t *testing.T) {
	ctx := context.Background()
	local := storage.NewMemory()
	s := New(local, defaults)
	s.newID = func() string { return "qnew" }
	_, err := s.Load(ctx, "")
	require.NoError(t, err)

	q, err := s.Add(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Question{ID: "qnew", Category: "Nueva Categoría", Subtext: "Descripción"}, q)
	assert.Len(t, saved(t, local), 3)
	assert.Equal(t, SourceLocal, s.Source())

	require.NoError(t, s.Update(ctx, 2, FieldCategory, "Calma"))
	require.NoError(t, s.Update(ctx, 2, FieldSubtext, "Paz interior"))
	assert.Equal(t, model.Question{ID: "qnew", Category: "Calma", Subtext: "Paz interior"}, saved(t, local)[2])

	require.NoError(t, s.Remove(ctx, 0))
	assert.Equal(t, []model.Question{
		{ID: "q2", Category: "Energía"},
		{ID: "qnew", Category: "Calma", Subtext: "Paz interior"},
	}, saved(t, local))

	// defaults are untouched by edits
	assert.Equal(t, "Foco", defaults[0].Category)
}

func TestCRUDErrors(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(), defaults)
	_, err := s.Load(ctx, "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Remove(ctx, 2), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Remove(ctx, -1), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Update(ctx, 5, FieldCategory, "x"), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Update(ctx, 0, "id", "x"), ErrUnknownField)
}

func TestResetToDefault(t *testing.T) {
	ctx := context.Background()
	local := storage.NewMemory()
	s := New(local, defaults)
	_, err := s.Load(ctx, "")
	require.NoError(t, err)
	_, err = s.Add(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.ResetToDefault(ctx, false), ErrNotConfirmed)
	assert.Len(t, s.List(), 3)

	require.NoError(t, s.ResetToDefault(ctx, true))
	assert.Equal(t, defaults, s.List())
	assert.Equal(t, SourceDefault, s.Source())

	_, ok, err := local.Load(ctx, storage.KeyAdminQuestions)
	require.NoError(t, err)
	assert.False(t, ok)
}
