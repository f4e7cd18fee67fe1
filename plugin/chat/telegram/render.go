// Package telegram adapts the chat pipeline to the Telegram Bot API:
// transport, markdown rendering, inline buttons, and stream editors.
package telegram

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmext "github.com/yuin/goldmark/extension"
	gmast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// MessageLimit is Telegram's maximum message length in characters.
const MessageLimit = 4096

// markdown is the shared converter. Tables and strikethrough come from
// the GFM extensions.
var markdown = goldmark.New(
	goldmark.WithExtensions(gmext.Table, gmext.Strikethrough, gmext.Linkify),
)

// MarkdownToHTML converts agent markdown output into the HTML subset
// Telegram accepts: b, i, s, u, code, pre, a, blockquote.
func MarkdownToHTML(input string) string {
	source := []byte(input)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	renderBlocks(&b, doc, source, "")
	return strings.TrimRight(b.String(), "\n")
}

// renderBlocks writes block-level children of n separated by blank
// lines. prefix is prepended to every produced line (list nesting).
func renderBlocks(b *strings.Builder, n ast.Node, source []byte, prefix string) {
	first := true
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		block := renderBlock(child, source, prefix)
		if block == "" {
			continue
		}
		if !first {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
		first = false
	}
}

func renderBlock(n ast.Node, source []byte, prefix string) string {
	switch node := n.(type) {
	case *ast.Heading:
		return prefix + "<b>" + renderInlines(node, source) + "</b>"
	case *ast.Paragraph, *ast.TextBlock:
		return prefix + renderInlines(n, source)
	case *ast.FencedCodeBlock:
		lang := string(node.Language(source))
		code := html.EscapeString(blockLines(node, source))
		if lang != "" {
			return fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>",
				html.EscapeString(lang), code)
		}
		return "<pre>" + code + "</pre>"
	case *ast.CodeBlock:
		return "<pre>" + html.EscapeString(blockLines(node, source)) + "</pre>"
	case *ast.Blockquote:
		var inner strings.Builder
		renderBlocks(&inner, node, source, "")
		return "<blockquote>" + inner.String() + "</blockquote>"
	case *ast.ThematicBreak:
		return "———"
	case *ast.List:
		return renderList(node, source, prefix)
	case *gmast.Table:
		return "<pre>" + html.EscapeString(renderTable(node, source)) + "</pre>"
	case *ast.HTMLBlock:
		return prefix + html.EscapeString(blockLines(node, source))
	}
	// Unknown block: render its inline content, if any.
	if n.HasChildren() {
		return prefix + renderInlines(n, source)
	}
	return ""
}

func renderList(list *ast.List, source []byte, prefix string) string {
	var items []string
	index := list.Start
	if index == 0 {
		index = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var inner strings.Builder
		renderBlocks(&inner, item, source, "")
		content := strings.ReplaceAll(inner.String(), "\n\n", "\n")
		marker := "• "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", index)
			index++
		}
		items = append(items, prefix+marker+content)
	}
	return strings.Join(items, "\n")
}

// renderTable lays the cells out as a column-aligned monospace block
// with a rule under the header row.
func renderTable(table *gmast.Table, source []byte) string {
	var rows [][]string
	for row := table.FirstChild(); row != nil; row = row.NextSibling() {
		switch r := row.(type) {
		case *gmast.TableHeader:
			rows = append(rows, tableRowCells(r, source))
		case *gmast.TableRow:
			rows = append(rows, tableRowCells(r, source))
		}
	}
	if len(rows) == 0 {
		return ""
	}

	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	widths := make([]int, cols)
	for _, row := range rows {
		for c, cell := range row {
			if len([]rune(cell)) > widths[c] {
				widths[c] = len([]rune(cell))
			}
		}
	}

	var out []string
	for i, row := range rows {
		cells := make([]string, cols)
		for c := range cells {
			cell := ""
			if c < len(row) {
				cell = row[c]
			}
			cells[c] = cell + strings.Repeat(" ", widths[c]-len([]rune(cell)))
		}
		out = append(out, strings.TrimRight(strings.Join(cells, "  "), " "))
		if i == 0 && len(rows) > 1 {
			rules := make([]string, cols)
			for c, w := range widths {
				rules[c] = strings.Repeat("─", w)
			}
			out = append(out, strings.Join(rules, "  "))
		}
	}
	return strings.Join(out, "\n")
}

func tableRowCells(row ast.Node, source []byte) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		cells = append(cells, plainText(cell, source))
	}
	return cells
}

func renderInlines(n ast.Node, source []byte) string {
	var b strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		renderInline(&b, child, source)
	}
	return b.String()
}

func renderInline(b *strings.Builder, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Text:
		b.WriteString(html.EscapeString(string(node.Segment.Value(source))))
		if node.HardLineBreak() || node.SoftLineBreak() {
			b.WriteString("\n")
		}
	case *ast.String:
		b.WriteString(html.EscapeString(string(node.Value)))
	case *ast.CodeSpan:
		b.WriteString("<code>")
		b.WriteString(html.EscapeString(plainText(node, source)))
		b.WriteString("</code>")
	case *ast.Emphasis:
		tag := "i"
		if node.Level >= 2 {
			tag = "b"
		}
		b.WriteString("<" + tag + ">")
		b.WriteString(renderInlines(node, source))
		b.WriteString("</" + tag + ">")
	case *gmast.Strikethrough:
		b.WriteString("<s>")
		b.WriteString(renderInlines(node, source))
		b.WriteString("</s>")
	case *ast.Link:
		b.WriteString(`<a href="` + html.EscapeString(string(node.Destination)) + `">`)
		b.WriteString(renderInlines(node, source))
		b.WriteString("</a>")
	case *ast.AutoLink:
		url := string(node.URL(source))
		b.WriteString(`<a href="` + html.EscapeString(url) + `">`)
		b.WriteString(html.EscapeString(url))
		b.WriteString("</a>")
	case *ast.Image:
		b.WriteString(`<a href="` + html.EscapeString(string(node.Destination)) + `">`)
		b.WriteString(renderInlines(node, source))
		b.WriteString("</a>")
	case *ast.RawHTML:
		b.WriteString(html.EscapeString(rawHTMLText(node, source)))
	default:
		if n.HasChildren() {
			b.WriteString(renderInlines(n, source))
		}
	}
}

func plainText(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(child ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := child.(*ast.Text); ok {
				buf.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return buf.String()
}

func blockLines(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimRight(buf.String(), "\n")
}

func rawHTMLText(n *ast.RawHTML, source []byte) string {
	var buf bytes.Buffer
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

// splitter accumulates parts into chunks of at most maxLen, keeping
// the input order. Oversized parts are handed to the split callback.
type splitter struct {
	chunks  []string
	current string
	maxLen  int
}

func (s *splitter) add(part, separator string, split func(string)) {
	candidate := part
	if s.current != "" {
		candidate = s.current + separator + part
	}
	if len(candidate) <= s.maxLen {
		s.current = candidate
		return
	}
	s.flush()
	if len(part) <= s.maxLen {
		s.current = part
		return
	}
	split(part)
}

func (s *splitter) flush() {
	if s.current != "" {
		s.chunks = append(s.chunks, s.current)
		s.current = ""
	}
}

// SplitHTMLMessage splits rendered HTML into chunks within Telegram's
// limit: paragraph boundaries first, then lines, then hard splits.
func SplitHTMLMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = MessageLimit
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	s := &splitter{maxLen: maxLen}
	for _, para := range strings.Split(text, "\n\n") {
		s.add(para, "\n\n", func(oversized string) {
			for _, line := range strings.Split(oversized, "\n") {
				s.add(line, "\n", func(huge string) {
					for offset := 0; offset < len(huge); offset += maxLen {
						end := offset + maxLen
						if end > len(huge) {
							end = len(huge)
						}
						s.chunks = append(s.chunks, huge[offset:end])
					}
				})
			}
		})
	}
	s.flush()
	return s.chunks
}
