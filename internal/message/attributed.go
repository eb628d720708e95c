package message

import (
	"regexp"
	"strings"
)

// The rich-text blob is a serialized attributed string: the plain body sits
// between an NSString marker and the trailing attribute dictionary. The
// slicing below mirrors how the blob is laid out in practice; when the
// markers are absent we fall back to the longest printable run.

var printableRun = regexp.MustCompile(`[\x20-\x7E]{2,}`)

// DecodeAttributedBody extracts the plain text payload from a rich-text
// blob. Returns "" when nothing readable is found.
func DecodeAttributedBody(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}
	s := string(blob)

	if i := strings.Index(s, "NSNumber"); i >= 0 {
		head := s[:i]
		if j := strings.Index(head, "NSString"); j >= 0 {
			body := head[j+len("NSString"):]
			if k := strings.Index(body, "NSDictionary"); k >= 0 {
				body = body[:k]
			}
			// Strip the length/stream framing around the payload.
			if len(body) > 18 {
				body = body[6 : len(body)-12]
			}
			if t := strings.TrimSpace(body); t != "" {
				return t
			}
		}
	}

	runs := printableRun.FindAllString(s, -1)
	if len(runs) == 0 {
		return ""
	}
	longest := runs[0]
	for _, r := range runs[1:] {
		if len(r) > len(longest) {
			longest = r
		}
	}
	return strings.TrimSpace(longest)
}
