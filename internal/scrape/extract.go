package scrape

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MinTextLength is the shortest extracted text considered a usable page.
const MinTextLength = 50

// Extraction methods, recorded on the page for diagnostics.
const (
	MethodArticle     = "article"
	MethodMain        = "main"
	MethodContent     = ".content"
	MethodBody        = "body"
	MethodReadability = "readability"
)

// strippedTags never contribute page text.
var strippedTags = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Noscript: true,
	atom.Template: true,
}

// contentSelectors are tried in order; the first with enough text wins.
var contentSelectors = []struct {
	method string
	sel    cascadia.Selector
}{
	{MethodArticle, cascadia.MustCompile("article")},
	{MethodMain, cascadia.MustCompile("main")},
	{MethodContent, cascadia.MustCompile(".content")},
	{MethodBody, cascadia.MustCompile("body")},
}

var titleSel = cascadia.MustCompile("title")

// Extracted is the plain text pulled from an HTML document.
type Extracted struct {
	Title  string
	Text   string
	Method string
}

// ExtractText converts HTML to collapsed plain text. Boilerplate elements
// are removed, then the text of the first of article, main, .content, body
// is used. When that yields less than MinTextLength characters the
// readability algorithm gets a second try on the raw document.
func ExtractText(body []byte, pageURL string) (*Extracted, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse html")
	}

	out := &Extracted{}
	if t := titleSel.MatchFirst(doc); t != nil {
		out.Title = collapse(nodeText(t))
	}

	removeBoilerplate(doc)

	for _, cs := range contentSelectors {
		n := cs.sel.MatchFirst(doc)
		if n == nil {
			continue
		}
		text := collapse(nodeText(n))
		if text == "" {
			continue
		}
		out.Text, out.Method = text, cs.method
		break
	}

	if len(out.Text) < MinTextLength {
		if text := readabilityText(body, pageURL); len(text) > len(out.Text) {
			out.Text, out.Method = text, MethodReadability
		}
	}
	return out, nil
}

func removeBoilerplate(n *html.Node) {
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && strippedTags[c.DataAtom] {
				doomed = append(doomed, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	for _, d := range doomed {
		d.Parent.RemoveChild(d)
	}
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func readabilityText(body []byte, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return ""
	}
	return collapse(article.TextContent)
}
