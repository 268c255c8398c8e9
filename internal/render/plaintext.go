package render

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainText reconstructs a plain-text approximation of a rendered segment
// sequence, used by the copy-message affordance. Headings come back as
// #-prefixed lines, list items as -/1.-prefixed lines, code as
// triple-backtick-fenced blocks, and links in "text (url)" form. The
// transform is lossy by design but deterministic: the same segment sequence
// always yields the same output.
func PlainText(segments []Segment) string {
	var sb strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case SegmentImage, SegmentVideo:
			sb.WriteString(seg.URL)
			sb.WriteString("\n")
		case SegmentCode:
			writeFence(&sb, seg.Text)
		default:
			flattenMarkdown(&sb, []byte(seg.Raw))
		}
	}
	return sb.String()
}

// CopyText is the convenience form of PlainText working from raw content.
func CopyText(content string) string {
	return PlainText(Segmentize(content))
}

func writeFence(sb *strings.Builder, code string) {
	sb.WriteString("```\n")
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")
}

// flattenMarkdown walks the markdown AST of a text segment and re-emits it as
// annotated plain text. Unknown inline constructs fall back to their literal
// text children, so the walk never loses prose.
func flattenMarkdown(sb *strings.Builder, source []byte) {
	root := markdown.Parser().Parse(text.NewReader(source))

	// Stack of builder offsets where link texts started, so nested links
	// still get their "(url)" suffix attached to the right text.
	var linkStarts []int

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Heading:
			if entering {
				sb.WriteString(strings.Repeat("#", node.Level))
				sb.WriteString(" ")
			} else {
				sb.WriteString("\n")
			}
		case *ast.Paragraph, *ast.TextBlock:
			if !entering {
				sb.WriteString("\n")
			}
		case *ast.ListItem:
			if entering {
				if list, ok := node.Parent().(*ast.List); ok && list.IsOrdered() {
					sb.WriteString("1. ")
				} else {
					sb.WriteString("- ")
				}
			}
		case *ast.FencedCodeBlock:
			if entering {
				writeFence(sb, blockLines(source, node.Lines()))
				return ast.WalkSkipChildren, nil
			}
		case *ast.CodeBlock:
			if entering {
				writeFence(sb, blockLines(source, node.Lines()))
				return ast.WalkSkipChildren, nil
			}
		case *ast.Link:
			if entering {
				linkStarts = append(linkStarts, sb.Len())
			} else {
				start := linkStarts[len(linkStarts)-1]
				linkStarts = linkStarts[:len(linkStarts)-1]
				dest := string(node.Destination)
				if dest != "" && sb.String()[start:] != dest {
					fmt.Fprintf(sb, " (%s)", dest)
				}
			}
		case *ast.AutoLink:
			if entering {
				sb.Write(node.URL(source))
			}
		case *ast.Text:
			if entering {
				sb.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					sb.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				sb.Write(node.Value)
			}
		case *ast.ThematicBreak:
			if !entering {
				sb.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
}

func blockLines(source []byte, lines *text.Segments) string {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		sb.Write(line.Value(source))
	}
	return sb.String()
}
