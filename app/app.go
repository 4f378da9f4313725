package app

import (
	"github.com/mbolis/matrix-survey/config"
	"github.com/mbolis/matrix-survey/model"
	"github.com/mbolis/matrix-survey/reconcile"
	"github.com/mbolis/matrix-survey/records"
	"github.com/mbolis/matrix-survey/responses"
	"github.com/mbolis/matrix-survey/storage"
)

// App carries what the request handlers share.
type App struct {
	config.Config

	Storage    storage.Provider
	Locks      *storage.Locks
	Records    *records.SQLStore
	Workflow   *reconcile.Workflow
	Indicators *responses.Indicators
	Defaults   []model.Question
}
