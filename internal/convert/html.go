package convert

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// HTMLConverter maps HTML structure to markdown: h1-h6 headings,
// paragraphs, list items, block quotes, preformatted code and tables.
type HTMLConverter struct{}

func (c *HTMLConverter) Convert(r io.Reader, filename string) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var doc document
	var hasH1 bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				hasH1 = hasH1 || level == 1
				doc.heading(level, textContent(n))
				return
			}
			switch n.Data {
			case "script", "style", "nav", "footer", "header", "noscript":
				return
			case "p":
				doc.paragraph(oneLine(textContent(n)))
				return
			case "blockquote":
				if t := oneLine(textContent(n)); t != "" {
					doc.paragraph("> " + t)
				}
				return
			case "pre":
				if t := strings.Trim(textOf(n), "\n"); strings.TrimSpace(t) != "" {
					doc.raw("```\n" + t + "\n```")
				}
				return
			case "ul", "ol":
				doc.raw(renderList(n, 0))
				return
			case "table":
				doc.table(tableRows(n))
				return
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}

	if body := findElement(root, "body"); body != nil {
		walk(body)
	} else {
		walk(root)
	}

	title := ""
	if t := findElement(root, "title"); t != nil {
		title = oneLine(textContent(t))
	}
	if !hasH1 {
		if title == "" {
			title = Stem(filename)
		}
		doc.blocks = append([]string{"# " + title}, doc.blocks...)
	}
	return doc.String(), nil
}

// renderList renders ul/ol items, indenting nested lists two spaces per level.
func renderList(list *html.Node, depth int) string {
	var b strings.Builder
	ordered := list.Data == "ol"
	n := 0
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		n++
		marker := "-"
		if ordered {
			marker = fmt.Sprintf("%d.", n)
		}

		var own strings.Builder
		var nested []string
		for ch := li.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type == html.ElementNode && (ch.Data == "ul" || ch.Data == "ol") {
				nested = append(nested, renderList(ch, depth+1))
				continue
			}
			own.WriteString(textOf(ch))
		}
		fmt.Fprintf(&b, "%s%s %s\n", strings.Repeat("  ", depth), marker, oneLine(own.String()))
		for _, s := range nested {
			b.WriteString(s)
		}
	}
	return b.String()
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var row []string
			for cell := n.FirstChild; cell != nil; cell = cell.NextSibling {
				if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
					row = append(row, textContent(cell))
				}
			}
			if len(row) > 0 {
				rows = append(rows, row)
			}
			return
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(table)
	return rows
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textOf(n *html.Node) string {
	var buf strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return buf.String()
}

func textContent(n *html.Node) string {
	return strings.TrimSpace(textOf(n))
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
