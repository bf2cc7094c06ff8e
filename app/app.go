package app

import (
	"github.com/go-chi/oauth"
	"github.com/mbolis/intelliform/ai"
	"github.com/mbolis/intelliform/config"
	"github.com/mbolis/intelliform/database"
	"github.com/mbolis/intelliform/problems"
	"github.com/mbolis/intelliform/sequencer"
)

type App struct {
	*database.Store
	*oauth.BearerServer
	config.Config

	Assistant *ai.Service
	Sessions  *sequencer.Registry
	Problems  *problems.Pipeline
}
