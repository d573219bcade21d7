package pagewatch

import "github.com/watchloop/pagewatch/internal/core"

// The Target data model lives in internal/core so internal/pipeline and
// internal/agent can reference it without importing this root package.

type (
	ContentMode   = core.ContentMode
	TargetID      = core.TargetID
	TargetConfig  = core.TargetConfig
	Target        = core.Target
)

const (
	ContentModeMarkup = core.ContentModeMarkup
	ContentModeText   = core.ContentModeText
	MinInterval       = core.MinInterval
)

// NormalizeURL implements the §4.1 restore-matching/navigation-away
// normalization.
var NormalizeURL = core.NormalizeURL
