package mcp

import (
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/google/wire"
)

// ProviderSet MCP ProviderSet
var ProviderSet = wire.NewSet(
	NewServer,
	wire.Bind(new(ModelLister), new(*token.Registry)),
)
