// Package llm asks a language model what the explorer should do next.
package llm

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	errs "github.com/PentesterFlow/OpenExplorer/internal/errors"
)

// Actions the explorer knows how to perform.
const (
	ActionClick    = "click"
	ActionType     = "type"
	ActionScroll   = "scroll"
	ActionNavigate = "navigate"
	ActionWait     = "wait"
	ActionPress    = "press"
)

var knownActions = map[string]bool{
	ActionClick:    true,
	ActionType:     true,
	ActionScroll:   true,
	ActionNavigate: true,
	ActionWait:     true,
	ActionPress:    true,
}

// Decider turns a prompt into the next action.
type Decider interface {
	Decide(ctx context.Context, system, user string) (*Decision, error)
}

// Decision is the model's answer for one step.
type Decision struct {
	Action     string     `json:"action,omitempty"`
	Ref        string     `json:"ref,omitempty"`
	Text       string     `json:"text,omitempty"`
	URL        string     `json:"url,omitempty"`
	Key        string     `json:"key,omitempty"`
	Reasoning  string     `json:"reasoning"`
	Intention  string     `json:"intention"`
	Confidence Confidence `json:"confidence"`
	Done       bool       `json:"done"`
}

// Confidence is free text ("high", "0.8"); models sometimes send a number.
type Confidence string

func (c *Confidence) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Confidence(s)
		return nil
	}
	if string(data) == "null" {
		*c = ""
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*c = Confidence(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// ParseDecision extracts the JSON object from a model reply. Markdown code
// fences and chatter around the object are ignored.
func ParseDecision(content string) (*Decision, error) {
	body := extractJSON(content)
	if body == "" {
		return nil, errs.NewParseError("", "decision", errs.ErrNoJSON)
	}

	var d Decision
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return nil, errs.NewParseError("", "decision", err)
	}

	d.Action = strings.ToLower(strings.TrimSpace(d.Action))
	d.Ref = strings.TrimPrefix(strings.TrimSpace(d.Ref), "@")
	if d.Done {
		return &d, nil
	}
	if d.Action == "" {
		d.Action = ActionWait
	}
	if !knownActions[d.Action] {
		return nil, errs.New(errs.Decision, "", "decision", "unknown action "+strconv.Quote(d.Action), nil)
	}
	return &d, nil
}

func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
