package usecase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cfieandres/cyphr-tableau/internal/domain"
)

// FormatType selects how an LLM response is shaped before it is returned.
type FormatType string

const (
	FormatAuto      FormatType = "auto"
	FormatBullet    FormatType = "bullet"
	FormatParagraph FormatType = "paragraph"
	FormatJSON      FormatType = "json"
	FormatRaw       FormatType = "raw"
)

// EmptyResponse replaces a blank LLM response.
const EmptyResponse = "No response received."

var (
	bulletLine     = regexp.MustCompile(`(?m)^\s*[•\-*]\s`)
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
)

// ParseFormatType parses a format name. The empty string selects FormatAuto.
func ParseFormatType(s string) (FormatType, error) {
	switch f := FormatType(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatBullet, FormatParagraph, FormatJSON, FormatRaw:
		return f, nil
	default:
		return "", domain.NewDomainError("ParseFormatType", domain.ErrInvalidInput,
			fmt.Sprintf("unknown format_type %q", s))
	}
}

// FormatResponse shapes text according to format. Auto detection picks JSON
// for text wrapped in braces or brackets, bullets for text that already has
// bullet lines or spans more than three lines, and paragraphs otherwise.
func FormatResponse(text string, format FormatType) string {
	if strings.TrimSpace(text) == "" {
		return EmptyResponse
	}
	if format == FormatRaw {
		return text
	}
	text = strings.TrimSpace(text)

	if format == FormatAuto || format == "" {
		format = detectFormat(text)
	}
	switch format {
	case FormatJSON:
		return formatJSON(text)
	case FormatBullet:
		return formatBullets(text)
	case FormatParagraph:
		return formatParagraphs(text)
	default:
		return text
	}
}

func detectFormat(text string) FormatType {
	switch {
	case strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}"),
		strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"):
		return FormatJSON
	case bulletLine.MatchString(text), strings.Count(text, "\n") > 2:
		return FormatBullet
	default:
		return FormatParagraph
	}
}

// formatJSON re-indents valid JSON, keeping key order. Invalid JSON is
// returned unchanged.
func formatJSON(text string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(text), "", "  "); err != nil {
		return text
	}
	return buf.String()
}

// formatBullets turns each group of consecutive non-empty lines into one
// bullet. Text that already contains bullets is left alone.
func formatBullets(text string) string {
	if bulletLine.MatchString(text) {
		return text
	}

	var (
		out   []string
		group []string
	)
	flush := func() {
		if len(group) == 0 {
			return
		}
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, "• "+strings.Join(group, " "))
		group = group[:0]
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		group = append(group, line)
	}
	flush()
	return strings.Join(out, "\n")
}

// formatParagraphs joins wrapped lines within each paragraph.
func formatParagraphs(text string) string {
	var paras []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(p) == "" {
			continue
		}
		paras = append(paras, strings.ReplaceAll(strings.TrimSpace(p), "\n", " "))
	}
	return strings.Join(paras, "\n\n")
}
