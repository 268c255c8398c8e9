package render

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/marcosvr/gemchat/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// RenderKind classifies how a message should be presented. It is derived from
// the content at render time and never stored.
type RenderKind string

const (
	KindPlainText     RenderKind = "plain-text"
	KindRichText      RenderKind = "rich-text"
	KindEmbeddedImage RenderKind = "embedded-image"
	KindEmbeddedVideo RenderKind = "embedded-video"
	KindError         RenderKind = "error"
)

// errorPrefixes are the known lowercase openings of backend-reported content
// errors. Matching content is tagged KindError for styling only; the stored
// content is never changed.
var errorPrefixes = []string{
	"error:",
	"error al",
	"lo siento, hemos alcanzado",
}

// richTextPattern detects markdown cues that warrant full rich rendering
// instead of plain text: headings, list items, links, emphasis and inline
// code.
var richTextPattern = regexp.MustCompile(
	`(?m)^#{1,6} |^\s*(?:[-*+]|\d+\.) |\[[^\]]+\]\([^)]+\)|\*\*[^*]+\*\*|` + "`[^`]+`",
)

// Kind computes the derived render kind for a message. Error detection only
// applies to assistant messages; embedded media and code fences take
// precedence over the plain/rich text distinction.
func Kind(role models.Role, content string) RenderKind {
	if role == models.RoleAssistant {
		lower := strings.ToLower(content)
		for _, prefix := range errorPrefixes {
			if strings.HasPrefix(lower, prefix) {
				return KindError
			}
		}
	}

	for _, seg := range Segmentize(content) {
		switch seg.Kind {
		case SegmentImage:
			return KindEmbeddedImage
		case SegmentVideo:
			return KindEmbeddedVideo
		}
	}

	if strings.Contains(content, "```") || richTextPattern.MatchString(content) {
		return KindRichText
	}
	return KindPlainText
}

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
	goldmark.WithRendererOptions(
		goldmarkhtml.WithHardWraps(),
	),
)

// HTML renders message content into display-ready HTML. Media markers become
// img/video elements, everything else goes through the markdown renderer so
// fenced code blocks come back highlighted. The segment boundaries from
// Segmentize are respected, so a code block containing marker-like text is
// never mistaken for media.
func HTML(content string) (string, error) {
	var sb strings.Builder
	for _, seg := range Segmentize(content) {
		switch seg.Kind {
		case SegmentImage:
			sb.WriteString(fmt.Sprintf(
				`<div class="generated-image"><img src=%q alt="Generated image" loading="lazy"></div>`,
				html.EscapeString(seg.URL)))
		case SegmentVideo:
			sb.WriteString(fmt.Sprintf(
				`<div class="generated-video"><video controls src=%q></video></div>`,
				html.EscapeString(seg.URL)))
		default:
			if err := markdown.Convert([]byte(seg.Raw), &sb); err != nil {
				return "", fmt.Errorf("failed to render markdown: %w", err)
			}
		}
	}
	return sb.String(), nil
}
