package http

import (
	"github.com/cocursor/contextengine/internal/interfaces/http/handler"
	"github.com/google/wire"
)

// ProviderSet HTTP 接口层 ProviderSet
var ProviderSet = wire.NewSet(
	handler.ProviderSet,
	NewServer,
)
