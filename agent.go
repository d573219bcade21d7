package pagewatch

import "github.com/watchloop/pagewatch/internal/core"

// PageAgent is the contract the Cycle Pipeline consumes for all
// browser-like operations (spec §4.3). Defined in internal/core so
// internal/agent's implementations and internal/pipeline's consumer can
// both reference it without importing this root package.
type PageAgent = core.PageAgent
