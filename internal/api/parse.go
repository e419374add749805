package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/cadre/pkg/models"
)

// ErrNoJSON is returned when a response carries no JSON value.
var ErrNoJSON = errors.New("no JSON found in response")

// extractJSON returns the first JSON object or array in text. A fenced code
// block is searched first; trailing prose after the value is ignored.
func extractJSON(text string) (json.RawMessage, error) {
	candidates := []string{}
	if inner, ok := fencedBlock(text); ok {
		candidates = append(candidates, inner)
	}
	candidates = append(candidates, text)

	for _, c := range candidates {
		start := strings.IndexAny(c, "{[")
		for start >= 0 {
			var raw json.RawMessage
			dec := json.NewDecoder(strings.NewReader(c[start:]))
			if err := dec.Decode(&raw); err == nil {
				return raw, nil
			}
			next := strings.IndexAny(c[start+1:], "{[")
			if next < 0 {
				break
			}
			start += next + 1
		}
	}
	return nil, ErrNoJSON
}

// fencedBlock returns the body of the first ``` block in text.
func fencedBlock(text string) (string, bool) {
	open := strings.Index(text, "```")
	if open < 0 {
		return "", false
	}
	body := text[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return "", false
	}
	return body[:end], true
}

// ParseVerdict reads a reviewer response of the form
// {"passed": bool, "message": "...", "details": {...}}.
func ParseVerdict(text string) (models.Verdict, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	var v struct {
		Passed  *bool             `json:"passed"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	if v.Passed == nil {
		return models.Verdict{}, errors.New("parse verdict: missing \"passed\" field")
	}
	return models.Verdict{Passed: *v.Passed, Message: v.Message, Details: v.Details}, nil
}

// ParsePlan reads a planner response. It accepts a JSON array of strings,
// an object with a "tasks" array, or a plain numbered or bulleted list.
// Blank entries are dropped.
func ParsePlan(text string) ([]string, error) {
	raw, err := extractJSON(text)
	if errors.Is(err, ErrNoJSON) {
		return parseListLines(text), nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	var tasks []string
	if err := json.Unmarshal(raw, &tasks); err != nil {
		var obj struct {
			Tasks []string `json:"tasks"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("parse plan: %w", err)
		}
		tasks = obj.Tasks
	}
	return compact(tasks), nil
}

func parseListLines(text string) []string {
	var tasks []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "):
			tasks = append(tasks, line[2:])
		default:
			if i := strings.IndexAny(line, ".)"); i > 0 && isDigits(line[:i]) {
				tasks = append(tasks, line[i+1:])
			}
		}
	}
	return compact(tasks)
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func compact(tasks []string) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseSuggestion reads a proposer response shaped like
// models.ImprovementSuggestion. proposed_change is required.
func ParseSuggestion(text string) (*models.ImprovementSuggestion, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parse suggestion: %w", err)
	}
	var s models.ImprovementSuggestion
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse suggestion: %w", err)
	}
	if s.ProposedChange == "" {
		return nil, errors.New("parse suggestion: empty proposed_change")
	}
	return &s, nil
}

// ParseStageOutput reads a developer response. A JSON object with a
// "content" field yields content and artifact; anything else is taken as
// the content verbatim.
func ParseStageOutput(text string) models.StageOutput {
	if raw, err := extractJSON(text); err == nil {
		var out models.StageOutput
		if json.Unmarshal(raw, &out) == nil && out.Content != "" {
			return out
		}
	}
	return models.StageOutput{Content: strings.TrimSpace(text)}
}
