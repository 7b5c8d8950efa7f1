package sanitizer

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Sanitizer turns raw inbound email bodies into the clean HTML that gets
// stored on a post: quoted replies and signatures stripped, markup reduced
// to a safe subset. Sanitizing already-clean output is a no-op.
type Sanitizer struct {
	policy   *bluemonday.Policy
	markdown goldmark.Markdown
}

// New builds a sanitizer with the platform's email markup policy.
func New() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "u", "s", "del")
	p.AllowElements("h1", "h2", "h3", "h4", "h5", "h6")
	p.AllowElements("p", "br", "hr", "div", "span")
	p.AllowElements("ul", "ol", "li")
	p.AllowElements("code", "pre")
	p.AllowElements("a")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)

	return &Sanitizer{
		policy:   p,
		markdown: goldmark.New(),
	}
}

var (
	onWrotePattern   = regexp.MustCompile(`(?s)^\s*(On|Le|Am|El|Il) .{0,300}?(wrote|écrit|schrieb|escribió|scritto)\s*:`)
	sigLinePattern   = regexp.MustCompile(`(?m)^--\s*$`)
	quoteLinePattern = regexp.MustCompile(`(?m)^\s*>.*$`)
	emptyBlockRe     = regexp.MustCompile(`<(p|div|span)>(\s|&nbsp;|&#160;)*</(p|div|span)>`)
	brRunRe          = regexp.MustCompile(`(<br\s*/?>\s*){2,}`)
	blankRunRe       = regexp.MustCompile(`\n{3,}`)
)

// Sanitize produces the stored representation of an inbound body. The
// HTML part is preferred; a structurally empty HTML part falls back to
// the plain-text part.
func (s *Sanitizer) Sanitize(htmlBody, textBody string) string {
	body := strings.TrimSpace(htmlBody)
	if !hasMarkup(body) {
		text := body
		if strings.TrimSpace(textBody) != "" {
			text = textBody
		}
		body = s.renderText(text)
	}
	body = stripQuoted(body)
	body = s.policy.Sanitize(body)
	return collapse(body)
}

// hasMarkup reports whether the body carries any HTML structure worth
// keeping. Bodies without a single tag are treated as plain text.
func hasMarkup(body string) bool {
	return strings.Contains(body, "<")
}

// renderText converts a plain-text body into HTML, dropping quoted lines
// and everything below the signature delimiter first.
func (s *Sanitizer) renderText(text string) string {
	if loc := sigLinePattern.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	if loc := onWrotePatternAnywhere.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = quoteLinePattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return buf.String()
}

var onWrotePatternAnywhere = regexp.MustCompile(`(?m)^(On|Le) .{0,300}?(wrote|écrit)\s*:\s*$`)

// stripQuoted removes the first quoted-reply marker and everything that
// follows it in document order.
func stripQuoted(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return body
	}
	bodyNode := findBody(doc)
	if bodyNode == nil {
		return body
	}
	cutFromFirstMarker(bodyNode)
	var buf bytes.Buffer
	for child := bodyNode.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return body
		}
	}
	return buf.String()
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findBody(child); found != nil {
			return found
		}
	}
	return nil
}

// cutFromFirstMarker walks the tree in document order and, at the first
// quote marker, removes the marker plus every node after it.
func cutFromFirstMarker(root *html.Node) bool {
	for child := root.FirstChild; child != nil; {
		next := child.NextSibling
		if isQuoteMarker(child) {
			removeFrom(root, child)
			return true
		}
		if cutFromFirstMarker(child) {
			removeFrom(root, next)
			return true
		}
		child = next
	}
	return false
}

// removeFrom detaches node and all its following siblings from parent.
func removeFrom(parent, node *html.Node) {
	for node != nil {
		next := node.NextSibling
		parent.RemoveChild(node)
		node = next
	}
}

func isQuoteMarker(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return sigLinePattern.MatchString(n.Data)
	case html.ElementNode:
	default:
		return false
	}
	if n.DataAtom == atom.Blockquote {
		return true
	}
	for _, attr := range n.Attr {
		value := strings.ToLower(attr.Val)
		switch attr.Key {
		case "class":
			if strings.Contains(value, "gmail_quote") ||
				strings.Contains(value, "yahoo_quoted") ||
				strings.Contains(value, "moz-cite-prefix") {
				return true
			}
		case "id":
			if value == "divrplyfwdmsg" || value == "appendonsend" {
				return true
			}
		}
	}
	// Client-inserted "On ... wrote:" attribution lines.
	if onWrotePattern.MatchString(nodeText(n)) {
		return true
	}
	return false
}

func nodeText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return buf.String()
}

// collapse removes the empty block elements and whitespace runs mail
// clients leave behind.
func collapse(body string) string {
	for {
		collapsed := emptyBlockRe.ReplaceAllString(body, "")
		if collapsed == body {
			break
		}
		body = collapsed
	}
	body = brRunRe.ReplaceAllString(body, "<br/>")
	body = blankRunRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}
