package handler

import (
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/google/wire"
)

// ProviderSet Handler ProviderSet
var ProviderSet = wire.NewSet(
	NewContextHandler,
	NewProviderHandler,
	wire.Bind(new(ModelLister), new(*token.Registry)),
)
