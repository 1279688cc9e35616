package contextengine

import (
	"github.com/google/wire"
)

// ProviderSet 上下文引擎 ProviderSet
var ProviderSet = wire.NewSet(
	NewMetrics,
	NewRanker,
	NewRecaller,
	NewAllocator,
	NewRewriter,
	NewEngine,
	NewPolicyReloader,
)
