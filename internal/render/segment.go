package render

import "regexp"

// SegmentKind represents the type of a content segment.
type SegmentKind string

const (
	// SegmentText is prose between embedded markers, possibly markdown.
	SegmentText SegmentKind = "text"
	// SegmentImage is a [GENERATED_IMAGE:<url>] marker.
	SegmentImage SegmentKind = "image"
	// SegmentVideo is a [GENERATED_VIDEO:<url>] marker.
	SegmentVideo SegmentKind = "video"
	// SegmentCode is a triple-backtick fenced code block.
	SegmentCode SegmentKind = "code"
)

// Segment is a typed, non-overlapping slice of message content. Raw always
// holds the exact source text the segment was cut from, so concatenating the
// Raw fields of all segments in order reproduces the original content.
type Segment struct {
	Kind SegmentKind

	// Text holds the prose for SegmentText and the code body for SegmentCode.
	Text string
	// URL holds the media address for SegmentImage and SegmentVideo.
	URL string
	// Lang holds the optional language tag of a SegmentCode.
	Lang string

	// Raw is the exact slice of the source content this segment covers.
	Raw string
}

// markerPattern recognizes, in priority order at each position: an image
// marker, a video marker, and a fenced code block with an optional language
// tag. Alternation order matters; the pattern is matched leftmost-first.
var markerPattern = regexp.MustCompile(
	`(?s)\[GENERATED_IMAGE:([^\]]+)\]` +
		`|\[GENERATED_VIDEO:([^\]]+)\]` +
		"|```([A-Za-z0-9_+.#-]*)\\n?(.*?)```",
)

// Segmentize scans content once, left to right, and splits it into typed
// segments. Text between matches is emitted as SegmentText; an unclosed code
// fence is treated as text. The result is total and non-overlapping: the
// segments cover the whole content exactly once, with no gaps.
func Segmentize(content string) []Segment {
	if content == "" {
		return nil
	}

	matches := markerPattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return []Segment{{Kind: SegmentText, Text: content, Raw: content}}
	}

	var segments []Segment
	pos := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > pos {
			gap := content[pos:start]
			segments = append(segments, Segment{Kind: SegmentText, Text: gap, Raw: gap})
		}

		raw := content[start:end]
		switch {
		case m[2] >= 0:
			segments = append(segments, Segment{
				Kind: SegmentImage,
				URL:  content[m[2]:m[3]],
				Raw:  raw,
			})
		case m[4] >= 0:
			segments = append(segments, Segment{
				Kind: SegmentVideo,
				URL:  content[m[4]:m[5]],
				Raw:  raw,
			})
		default:
			segments = append(segments, Segment{
				Kind: SegmentCode,
				Lang: content[m[6]:m[7]],
				Text: content[m[8]:m[9]],
				Raw:  raw,
			})
		}
		pos = end
	}
	if pos < len(content) {
		tail := content[pos:]
		segments = append(segments, Segment{Kind: SegmentText, Text: tail, Raw: tail})
	}

	return segments
}
