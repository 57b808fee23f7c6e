package usecase

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Payload is the request data after rendering for the prompt.
type Payload struct {
	Text      string
	Dashboard bool
}

// RenderPayload renders raw request data for inclusion in a prompt. A
// dashboard export ({"dashboardName", "worksheets": [{"name", "data"}]})
// becomes markdown with one fenced JSON block per worksheet. Other JSON is
// re-indented and anything else is passed through verbatim.
func RenderPayload(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return Payload{Text: raw}
	}
	if md, ok := renderDashboard([]byte(trimmed)); ok {
		return Payload{Text: md, Dashboard: true}
	}
	return Payload{Text: indentJSON([]byte(trimmed))}
}

type worksheetExport struct {
	Name *string         `json:"name"`
	Data json.RawMessage `json:"data"`
}

func renderDashboard(raw []byte) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	wsRaw, ok := obj["worksheets"]
	if !ok {
		return "", false
	}
	var worksheets []worksheetExport
	if err := json.Unmarshal(wsRaw, &worksheets); err != nil {
		return "", false
	}

	name := "Dashboard"
	if n, ok := obj["dashboardName"]; ok {
		var s string
		if json.Unmarshal(n, &s) == nil {
			name = s
		}
	}

	var b strings.Builder
	b.WriteString("# " + name + "\n\n")
	for _, ws := range worksheets {
		wsName := "Unnamed Worksheet"
		if ws.Name != nil {
			wsName = *ws.Name
		}
		data := []byte("{}")
		if len(ws.Data) > 0 && string(ws.Data) != "null" {
			data = ws.Data
		}
		b.WriteString("## " + wsName + "\n```\n")
		b.WriteString(indentJSON(data))
		b.WriteString("\n```\n\n")
	}
	return b.String(), true
}

func indentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// BuildPrompt assembles the user prompt from the rendered session history,
// the caller's question and the payload. Without a question or history the
// payload is the whole prompt.
func BuildPrompt(history, question string, payload Payload) string {
	hasHistory := strings.TrimSpace(history) != ""
	if strings.TrimSpace(question) == "" && !hasHistory {
		return payload.Text
	}
	label := "Data:"
	if payload.Dashboard {
		label = "Dashboard Data:"
	}
	var b strings.Builder
	if strings.TrimSpace(question) == "" {
		b.WriteString("Conversation history:\n")
		b.WriteString(history)
		b.WriteString("\n\n")
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(payload.Text)
		b.WriteString("\n")
		return b.String()
	}
	if hasHistory {
		b.WriteString("Conversation history:\n")
		b.WriteString(history)
		b.WriteString("\n\nNew question: ")
	} else {
		b.WriteString("Question: ")
	}
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(label)
	b.WriteString("\n")
	b.WriteString(payload.Text)
	b.WriteString("\n")
	return b.String()
}

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// PreprocessPrompt trims surrounding whitespace and collapses runs of three
// or more newlines into a blank line.
func PreprocessPrompt(text string) string {
	return excessNewlines.ReplaceAllString(strings.TrimSpace(text), "\n\n")
}
