package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// AgentDescriptor is a configured routing profile for one logical endpoint.
type AgentDescriptor struct {
	EndpointPath string    `json:"endpoint_path" yaml:"endpoint_path"`
	AgentID      string    `json:"agent_id"      yaml:"agent_id"`
	DisplayName  string    `json:"display_name"  yaml:"display_name"`
	Description  string    `json:"description"   yaml:"description"`
	Instructions string    `json:"instructions"  yaml:"instructions"`
	Indicators   []string  `json:"indicators"    yaml:"indicators"`
	Priority     int       `json:"priority"      yaml:"priority"`
	Model        string    `json:"model"         yaml:"model"`
	Temperature  float64   `json:"temperature"   yaml:"temperature"`
	CreatedAt    time.Time `json:"created_at"    yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at"    yaml:"-"`
}

// Validate checks the descriptor invariants. It returns an error wrapping
// ErrValidation describing the first violation.
func (d AgentDescriptor) Validate() error {
	var problems []string
	if d.EndpointPath == "" {
		problems = append(problems, "endpoint_path is required")
	} else if !strings.HasPrefix(d.EndpointPath, "/") {
		problems = append(problems, fmt.Sprintf("endpoint_path %q must begin with /", d.EndpointPath))
	} else if strings.TrimSpace(strings.TrimPrefix(d.EndpointPath, "/")) == "" {
		problems = append(problems, "endpoint_path must name an endpoint")
	}
	if math.IsNaN(d.Temperature) || d.Temperature < 0 || d.Temperature > 1 {
		problems = append(problems, fmt.Sprintf("temperature %v must be within [0,1]", d.Temperature))
	}
	if d.Priority < 0 {
		problems = append(problems, fmt.Sprintf("priority %d must be non-negative", d.Priority))
	}
	if len(problems) > 0 {
		return NewDomainError("AgentDescriptor.Validate", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// Normalize fills derived fields and canonicalises the indicator set.
// Indicators are trimmed, lowercased and de-duplicated, keeping first
// occurrence order.
func (d AgentDescriptor) Normalize(defaultModel string) AgentDescriptor {
	d.EndpointPath = strings.TrimSpace(d.EndpointPath)
	name := strings.TrimPrefix(d.EndpointPath, "/")
	if d.AgentID == "" {
		d.AgentID = name
	}
	if d.DisplayName == "" {
		d.DisplayName = DisplayNameFromPath(d.EndpointPath)
	}
	if d.Description == "" {
		d.Description = FirstSentence(d.Instructions)
	}
	if d.Model == "" {
		d.Model = defaultModel
	}

	seen := make(map[string]struct{}, len(d.Indicators))
	indicators := make([]string, 0, len(d.Indicators))
	for _, ind := range d.Indicators {
		ind = strings.ToLower(strings.TrimSpace(ind))
		if ind == "" {
			continue
		}
		if _, dup := seen[ind]; dup {
			continue
		}
		seen[ind] = struct{}{}
		indicators = append(indicators, ind)
	}
	d.Indicators = indicators
	return d
}

// Name returns the endpoint path without its leading slash.
func (d AgentDescriptor) Name() string {
	return strings.TrimPrefix(d.EndpointPath, "/")
}

// IsFallback reports whether the descriptor has no routing indicators.
func (d AgentDescriptor) IsFallback() bool {
	return len(d.Indicators) == 0
}

// Clone returns a copy that shares no slices with d.
func (d AgentDescriptor) Clone() AgentDescriptor {
	d.Indicators = append([]string(nil), d.Indicators...)
	return d
}

// DisplayNameFromPath derives a display name such as "Store-perf" from "/store-perf".
func DisplayNameFromPath(path string) string {
	name := strings.Trim(strings.TrimSpace(path), "/")
	if name == "" {
		return ""
	}
	r := []rune(strings.ToLower(name))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// FirstSentence returns the text up to and including the first period,
// or the whole trimmed text when there is none.
func FirstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "."); i >= 0 {
		return strings.TrimSpace(text[:i+1])
	}
	return text
}
