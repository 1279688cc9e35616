package application

import (
	"github.com/cocursor/contextengine/internal/application/contextengine"
	"github.com/google/wire"
)

// ProviderSet Application 层总 ProviderSet
var ProviderSet = wire.NewSet(
	contextengine.ProviderSet,
)
