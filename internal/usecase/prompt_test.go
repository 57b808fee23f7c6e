package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderPayloadDashboard(t *testing.T) {
	raw := `{"dashboardName":"Sales","worksheets":[{"name":"By Region","data":{"west":10,"east":4}},{"data":null}]}`
	p := RenderPayload(raw)

	assert.True(t, p.Dashboard)
	want := "# Sales\n\n" +
		"## By Region\n```\n{\n  \"west\": 10,\n  \"east\": 4\n}\n```\n\n" +
		"## Unnamed Worksheet\n```\n{}\n```\n\n"
	assert.Equal(t, want, p.Text)
}

func TestRenderPayloadDashboardDefaultName(t *testing.T) {
	p := RenderPayload(`{"worksheets":[]}`)
	assert.True(t, p.Dashboard)
	assert.Equal(t, "# Dashboard\n\n", p.Text)
}

func TestRenderPayloadOtherJSON(t *testing.T) {
	p := RenderPayload(`[1,{"a":"b"}]`)
	assert.False(t, p.Dashboard)
	assert.Equal(t, "[\n  1,\n  {\n    \"a\": \"b\"\n  }\n]", p.Text)

	p = RenderPayload(`{"worksheets":"not a list"}`)
	assert.False(t, p.Dashboard)
}

func TestRenderPayloadPlainText(t *testing.T) {
	p := RenderPayload("Revenue: 10k\nCost: 4k")
	assert.False(t, p.Dashboard)
	assert.Equal(t, "Revenue: 10k\nCost: 4k", p.Text)
}

func TestBuildPrompt(t *testing.T) {
	data := Payload{Text: "rows"}
	assert.Equal(t, "rows", BuildPrompt("", "", data))
	assert.Equal(t, "Conversation history:\nHuman: hi\n\n\nData:\nrows\n", BuildPrompt("Human: hi\n", "", data))
	assert.Equal(t, "Question: why?\n\nData:\nrows\n", BuildPrompt("", "why?", data))
	assert.Equal(t,
		"Conversation history:\nHuman: hi\nAssistant: hello\n\n\n\nNew question: why?\n\nDashboard Data:\n# D\n",
		BuildPrompt("Human: hi\nAssistant: hello\n\n", "why?", Payload{Text: "# D", Dashboard: true}),
	)
}

func TestPreprocessPrompt(t *testing.T) {
	assert.Equal(t, "a\n\nb\n\nc", PreprocessPrompt("  \na\n\n\n\nb\n\nc\n\n"))
}

func TestTokenCounterFallback(t *testing.T) {
	c := NewTokenCounter("")
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 3, c.Count("twelve chars"))

	c = NewTokenCounter("no-such-encoding")
	assert.Equal(t, 2, c.Count("12345678"))
}
