package crawler

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"tracklight/pkg/utils"
)

const (
	minParagraphChars = 20
	minArticleChars   = 200
)

// strippedElements never contribute article text.
var strippedElements = map[atom.Atom]bool{
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
}

// Document is the text extracted from one HTML page.
type Document struct {
	Title string
	Text  string
}

// Parser extracts readable article text from HTML.
type Parser struct {
	maxChars int
	str      *utils.StringHelper
}

// NewParser creates a parser that caps extracted text at maxChars runes.
func NewParser(maxChars int) *Parser {
	return &Parser{maxChars: maxChars, str: utils.NewStringHelper()}
}

// ParseHTML extracts the title and body text. Paragraphs inside <article>, else
// <main> or role=main, else the whole page are kept when longer than 20 characters.
// When that yields under 200 characters every paragraph on the page is used.
func (p *Parser) ParseHTML(content string) (Document, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return Document{}, err
	}

	title := findTitle(doc)

	strip(doc)

	container := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == atom.Article })
	if container == nil {
		container = findFirst(doc, func(n *html.Node) bool {
			return n.DataAtom == atom.Main || attr(n, "role") == "main"
		})
	}

	if container == nil {
		container = doc
	}

	var chunks []string

	for _, para := range findAll(container, atom.P) {
		if t := p.str.NormalizeWhitespace(textOf(para)); len(t) > minParagraphChars {
			chunks = append(chunks, t)
		}
	}

	text := strings.Join(chunks, " ")

	if len(text) < minArticleChars {
		chunks = chunks[:0]

		for _, para := range findAll(doc, atom.P) {
			if t := p.str.NormalizeWhitespace(textOf(para)); t != "" {
				chunks = append(chunks, t)
			}
		}

		if all := strings.Join(chunks, " "); len(all) > len(text) {
			text = all
		}
	}

	return Document{Title: title, Text: p.cap(text)}, nil
}

// ParsePlain normalizes a non-HTML body.
func (p *Parser) ParsePlain(content string) Document {
	return Document{Text: p.cap(strings.TrimSpace(content))}
}

func (p *Parser) cap(text string) string {
	if p.maxChars <= 0 {
		return text
	}

	return p.str.TruncateRunes(text, p.maxChars)
}

// strip removes navigation and script elements in place.
func strip(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling

		if c.Type == html.ElementNode && strippedElements[c.DataAtom] {
			n.RemoveChild(c)
		} else {
			strip(c)
		}

		c = next
	}
}

func findTitle(doc *html.Node) string {
	if meta := findFirst(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Meta && attr(n, "property") == "og:title" && attr(n, "content") != ""
	}); meta != nil {
		return strings.TrimSpace(attr(meta, "content"))
	}

	for _, a := range []atom.Atom{atom.Title, atom.H1} {
		if n := findFirst(doc, func(n *html.Node) bool { return n.DataAtom == a }); n != nil {
			if t := strings.Join(strings.Fields(textOf(n)), " "); t != "" {
				return t
			}
		}
	}

	return ""
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}

	return nil
}

func findAll(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == a {
			out = append(out, n)

			return
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return out
}

// textOf concatenates text nodes under n, separating elements with spaces.
func textOf(n *html.Node) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			sb.WriteByte(' ')
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}

	return ""
}
