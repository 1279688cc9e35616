package infrastructure

import (
	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/cocursor/contextengine/internal/infrastructure/llm"
	"github.com/cocursor/contextengine/internal/infrastructure/rag"
	"github.com/cocursor/contextengine/internal/infrastructure/token"
	"github.com/cocursor/contextengine/internal/infrastructure/vector"
	"github.com/cocursor/contextengine/internal/infrastructure/watcher"
	"github.com/google/wire"
)

// ProviderSet Infrastructure 层总 ProviderSet
var ProviderSet = wire.NewSet(
	config.ProviderSet,
	rag.ProviderSet,
	token.ProviderSet,
	vector.ProviderSet,
	llm.ProviderSet,
	watcher.ProviderSet,
)
