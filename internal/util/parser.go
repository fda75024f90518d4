package util

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	blankRun = regexp.MustCompile(`\n{3,}`)
	spaceRun = regexp.MustCompile(`[ \t]+`)
)

// Elements that start a new line in the plain-text rendering.
var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "hr": true, "blockquote": true,
}

// HTMLToText renders an HTML mail body as plain text for the text/plain alternative.
// Links are written as "label (href)" unless the label already is the href.
func HTMLToText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(nd *html.Node) {
		switch nd.Type {
		case html.TextNode:
			b.WriteString(spaceRun.ReplaceAllString(strings.ReplaceAll(nd.Data, "\n", " "), " "))
			return
		case html.ElementNode:
			switch nd.Data {
			case "script", "style", "head", "title":
				return
			case "li":
				b.WriteString("\n- ")
			default:
				if blockElements[nd.Data] {
					b.WriteString("\n")
				}
			}
		}

		for c := nd.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if nd.Type == html.ElementNode && nd.Data == "a" {
			if href := attr(nd, "href"); href != "" && !strings.Contains(textOf(nd), href) {
				b.WriteString(" (" + href + ")")
			}
		}
		if nd.Type == html.ElementNode && blockElements[nd.Data] && nd.Data != "br" {
			b.WriteString("\n")
		}
	}
	walk(doc)

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	out := blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}

func attr(nd *html.Node, key string) string {
	for _, a := range nd.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(nd *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(nd)
	return b.String()
}
