// Package extract converts capture attachments into text the classification
// service can read. Extraction never fails a capture: unsupported or broken
// attachments degrade to passthrough and the attachment rides along as
// base64 for the service to interpret.
package extract

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Text decodes a base64 attachment and extracts readable text from it based
// on mime type. Returns "" (with no error) for types that carry no
// extractable text, such as images and audio.
func Text(mimeType, base64Data string) (string, error) {
	content, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		return "", fmt.Errorf("decoding attachment: %w", err)
	}

	switch {
	case mimeType == "application/pdf":
		return extractPDF(content)
	case mimeType == "text/html":
		return extractHTML(content)
	case strings.HasPrefix(mimeType, "text/"):
		return extractPlain(content)
	default:
		return "", nil
	}
}

// TextOrEmpty is Text with the degradation policy applied: extraction
// failures are logged and swallowed, the capture proceeds on raw text alone.
func TextOrEmpty(mimeType, base64Data string) string {
	text, err := Text(mimeType, base64Data)
	if err != nil {
		slog.Warn("attachment extraction failed, proceeding without it", "mime_type", mimeType, "error", err)
		return ""
	}
	return text
}

func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String(), nil
}

// extractHTML strips tags and returns the visible text, skipping script and
// style subtrees.
func extractHTML(content []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var buf bytes.Buffer
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if buf.Len() > 0 {
					buf.WriteByte(' ')
				}
				buf.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return buf.String(), nil
}

// extractPlain returns content as a string, replacing invalid UTF-8
// sequences with the replacement character.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "�"), nil
	}
	return string(content), nil
}
