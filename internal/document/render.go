package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/recapbook/api/internal/model"
)

var md = goldmark.New()

// Render encodes doc in the requested format and returns the bytes and
// their content type.
func Render(doc *model.Document, format model.Format) ([]byte, string, error) {
	switch format {
	case model.FormatJSON:
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode document: %w", err)
		}
		return data, "application/json", nil
	case model.FormatMarkdown:
		return []byte(Markdown(doc)), "text/markdown; charset=utf-8", nil
	case model.FormatHTML:
		var body bytes.Buffer
		if err := md.Convert([]byte(Markdown(doc)), &body); err != nil {
			return nil, "", fmt.Errorf("failed to render html: %w", err)
		}
		var out bytes.Buffer
		out.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
		out.WriteString(html.EscapeString(doc.Title))
		out.WriteString("</title></head>\n<body><article>\n")
		out.Write(body.Bytes())
		out.WriteString("</article></body></html>\n")
		return out.Bytes(), "text/html; charset=utf-8", nil
	}
	return nil, "", fmt.Errorf("unsupported format %q", format)
}

// Markdown lays the document out as CommonMark.
func Markdown(doc *model.Document) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", doc.Title)
	for _, s := range doc.Sections {
		fmt.Fprintf(&sb, "## %s\n\n", s.Title)
		if s.Media != nil && s.Media.URL != "" {
			fmt.Fprintf(&sb, "![%s](%s)\n\n", s.Media.Key, s.Media.URL)
		}
		sb.WriteString(s.Content)
		sb.WriteString("\n\n")
	}
	if doc.Closing != "" {
		sb.WriteString("---\n\n")
		sb.WriteString(doc.Closing)
		sb.WriteString("\n")
	}
	return sb.String()
}
