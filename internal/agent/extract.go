package agent

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/watchloop/pagewatch/internal/core"
)

// ErrNoMatch is returned when selector matches no element in the parsed
// document. Callers translate this to core.ErrElementNotFound.
var ErrNoMatch = fmt.Errorf("extract: selector matched no element")

// extractor renders a selector-scoped fragment of an HTML document into
// either sanitized markup or Markdown text, matching the two content
// modes of spec §3.
type extractor struct {
	sanitizer   *bluemonday.Policy
	mdConverter *converter.Converter
}

func newExtractor() *extractor {
	return &extractor{
		sanitizer: bluemonday.UGCPolicy(),
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// extract parses rawHTML, selects every selector match (document
// order), and renders them per mode, joined by newlines. sourceURL is passed through to the
// Markdown converter so it can resolve relative links.
func (e *extractor) extract(rawHTML, selector, sourceURL string, mode core.ContentMode) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("extract: parse html: %w", err)
	}

	matches := querySelectorAll(doc, selector)
	if len(matches) == 0 {
		return "", ErrNoMatch
	}

	var fragments []string
	for _, n := range matches {
		fragments = append(fragments, renderNode(n))
	}
	fragmentHTML := strings.Join(fragments, "\n")

	switch mode {
	case core.ContentModeText:
		md, err := e.mdConverter.ConvertString(fragmentHTML, converter.WithDomain(sourceURL))
		if err != nil {
			return "", fmt.Errorf("extract: convert markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	default: // core.ContentModeMarkup
		return strings.TrimSpace(e.sanitizer.Sanitize(fragmentHTML)), nil
	}
}
