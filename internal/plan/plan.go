// Package plan loads fixed plans from YAML files so a run can skip goal
// planning:
//
//	goal: add a CSV exporter
//	tasks:
//	  - write the CSV encoder
//	  - wire the export command
//	knowledge:
//	  style: docs/STYLE.md
//
// Knowledge values name files relative to the plan file; their contents
// are handed to every stage.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoTasks is returned for a plan without any non-blank task.
var ErrNoTasks = errors.New("plan has no tasks")

// File is a parsed plan file.
type File struct {
	Goal      string            `yaml:"goal"`
	Tasks     []string          `yaml:"tasks"`
	Knowledge map[string]string `yaml:"knowledge,omitempty"`

	// dir is the directory knowledge paths are resolved against.
	dir string
}

// Parse decodes a plan document. Unknown fields are rejected so typos do
// not silently drop settings.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	f.Goal = strings.TrimSpace(f.Goal)
	tasks := make([]string, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		if t = strings.TrimSpace(t); t != "" {
			tasks = append(tasks, t)
		}
	}
	if len(tasks) == 0 {
		return nil, ErrNoTasks
	}
	f.Tasks = tasks
	if f.Goal == "" {
		f.Goal = tasks[0]
	}
	return &f, nil
}

// Load reads and parses the plan at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// ReadKnowledge returns the knowledge map with each path replaced by the
// file's contents.
func (f *File) ReadKnowledge() (map[string]string, error) {
	out := make(map[string]string, len(f.Knowledge))
	for name, rel := range f.Knowledge {
		path := rel
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.dir, rel)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read knowledge %q: %w", name, err)
		}
		out[name] = string(data)
	}
	return out, nil
}

// Save writes f as YAML to path.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
