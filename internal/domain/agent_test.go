package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentDescriptorValidate(t *testing.T) {
	valid := AgentDescriptor{EndpointPath: "/analytics", AgentID: "analytics-agent", Temperature: 0.5, Priority: 10}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*AgentDescriptor)
	}{
		{"empty path", func(d *AgentDescriptor) { d.EndpointPath = "" }},
		{"no leading slash", func(d *AgentDescriptor) { d.EndpointPath = "analytics" }},
		{"bare slash", func(d *AgentDescriptor) { d.EndpointPath = "/" }},
		{"temperature above one", func(d *AgentDescriptor) { d.Temperature = 1.5 }},
		{"negative temperature", func(d *AgentDescriptor) { d.Temperature = -0.1 }},
		{"nan temperature", func(d *AgentDescriptor) { d.Temperature = math.NaN() }},
		{"negative priority", func(d *AgentDescriptor) { d.Priority = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestAgentDescriptorValidateBoundaries(t *testing.T) {
	for _, temp := range []float64{0, 1} {
		d := AgentDescriptor{EndpointPath: "/a", Temperature: temp}
		assert.NoError(t, d.Validate(), "temperature %v", temp)
	}
}

func TestAgentDescriptorNormalize(t *testing.T) {
	d := AgentDescriptor{
		EndpointPath: " /store-perf ",
		Instructions: "You analyze store P&L. Be concise.",
		Indicators:   []string{" Store", "P&L", "store", "", "performance"},
	}.Normalize("claude-3-5-sonnet")

	assert.Equal(t, "/store-perf", d.EndpointPath)
	assert.Equal(t, "store-perf", d.AgentID)
	assert.Equal(t, "Store-perf", d.DisplayName)
	assert.Equal(t, "You analyze store P&L.", d.Description)
	assert.Equal(t, "claude-3-5-sonnet", d.Model)
	assert.Equal(t, []string{"store", "p&l", "performance"}, d.Indicators)
}

func TestAgentDescriptorNormalizeKeepsExplicitFields(t *testing.T) {
	d := AgentDescriptor{
		EndpointPath: "/general",
		AgentID:      "general-agent",
		DisplayName:  "General Questions",
		Description:  "Anything goes",
		Model:        "gpt-4o",
	}.Normalize("claude-3-5-sonnet")

	assert.Equal(t, "general-agent", d.AgentID)
	assert.Equal(t, "General Questions", d.DisplayName)
	assert.Equal(t, "Anything goes", d.Description)
	assert.Equal(t, "gpt-4o", d.Model)
	assert.True(t, d.IsFallback())
}

func TestAgentDescriptorClone(t *testing.T) {
	d := AgentDescriptor{EndpointPath: "/a", Indicators: []string{"x"}}
	c := d.Clone()
	c.Indicators[0] = "y"
	assert.Equal(t, "x", d.Indicators[0])
}

func TestFirstSentence(t *testing.T) {
	assert.Equal(t, "", FirstSentence("  "))
	assert.Equal(t, "no period here", FirstSentence("no period here"))
	assert.Equal(t, "One.", FirstSentence("One. Two."))
}
