package agent

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

func parse(t *testing.T, docHTML string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(docHTML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestQuerySelectorAll_Tag(t *testing.T) {
	doc := parse(t, `<html><body><article>one</article><article>two</article></body></html>`)
	matches := querySelectorAll(doc, "article")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
}

func TestQuerySelectorAll_Class(t *testing.T) {
	doc := parse(t, `<html><body><div class="content">a</div><div class="sidebar">b</div></body></html>`)
	matches := querySelectorAll(doc, ".content")
	if len(matches) != 1 || collectText(matches[0]) != "a" {
		t.Fatalf("got %d matches, want 1 with text 'a'", len(matches))
	}
}

func TestQuerySelectorAll_ID(t *testing.T) {
	doc := parse(t, `<html><body><div id="main">x</div></body></html>`)
	matches := querySelectorAll(doc, "#main")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
}

func TestQuerySelectorAll_TagAndClass(t *testing.T) {
	doc := parse(t, `<html><body><div class="content">a</div><span class="content">b</span></body></html>`)
	matches := querySelectorAll(doc, "div.content")
	if len(matches) != 1 || collectText(matches[0]) != "a" {
		t.Fatalf("got %d matches, want 1 div.content", len(matches))
	}
}

func TestQuerySelectorAll_Attribute(t *testing.T) {
	doc := parse(t, `<html><body><div data-content="yes">a</div><div>b</div></body></html>`)
	matches := querySelectorAll(doc, "div[data-content]")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}

	matches = querySelectorAll(doc, "div[data-content=yes]")
	if len(matches) != 1 {
		t.Fatalf("got %d matches for attr=val, want 1", len(matches))
	}
}

func TestQuerySelectorAll_DescendantCombinator(t *testing.T) {
	doc := parse(t, `<html><body><div class="outer"><p>inner</p></div><p>outside</p></body></html>`)
	matches := querySelectorAll(doc, ".outer p")
	if len(matches) != 1 || collectText(matches[0]) != "inner" {
		t.Fatalf("got %d matches, want the single nested <p>", len(matches))
	}
}

func TestQuerySelectorAll_NoMatch(t *testing.T) {
	doc := parse(t, `<html><body><div>x</div></body></html>`)
	matches := querySelectorAll(doc, "#nonexistent")
	if len(matches) != 0 {
		t.Fatalf("got %d matches, want 0", len(matches))
	}
}

func TestCollectText_SkipsScriptAndStyle(t *testing.T) {
	doc := parse(t, `<html><body><div id="x">hello <script>ignored()</script><style>.a{}</style> world</div></body></html>`)
	matches := querySelectorAll(doc, "#x")
	if len(matches) != 1 {
		t.Fatalf("expected one match")
	}
	got := collectText(matches[0])
	if strings.Contains(got, "ignored") || strings.Contains(got, ".a{}") {
		t.Fatalf("collectText leaked script/style content: %q", got)
	}
	if !strings.Contains(got, "hello") || !strings.Contains(got, "world") {
		t.Fatalf("collectText dropped real text: %q", got)
	}
}
