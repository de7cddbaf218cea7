// Package manifest loads the YAML file that declares a stage's steps.
//
// A step entry of `~` is a null declaration: it occupies a progress slot and
// produces a configuration warning at run time, never a load error.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Container kinds. Only these carry children.
const (
	// GroupKind is the fan-out container kind.
	GroupKind = "group"
	// RetryKind wraps exactly one child and retries its units on failure.
	RetryKind = "retry"
)

// Manifest is one stage of the boot sequence.
type Manifest struct {
	Stage string  `yaml:"stage"`
	Next  string  `yaml:"next,omitempty"`
	Steps []*Step `yaml:"steps"`

	// path is the file the manifest was loaded from, if any.
	path string
}

// Step declares one unit template. A nil *Step in Steps is a null declaration.
type Step struct {
	Name     string         `yaml:"name"`
	Kind     string         `yaml:"kind"`
	With     map[string]any `yaml:"with,omitempty"`
	Children []*Step        `yaml:"children,omitempty"`
}

// Label returns the step name, falling back to its kind.
func (s *Step) Label() string {
	if s == nil {
		return "<null>"
	}
	if s.Name != "" {
		return s.Name
	}
	return s.Kind
}

// Load reads and parses the manifest at path. It does not validate.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.path = path
	return m, nil
}

// Parse decodes a manifest document. Unknown top-level or step fields are
// rejected so typos surface early.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if err == io.EOF {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Path returns the file the manifest was loaded from.
func (m *Manifest) Path() string { return m.path }

// NextPath resolves Next relative to the manifest's directory. It returns ""
// when no follow-on stage is declared.
func (m *Manifest) NextPath() string {
	if m.Next == "" {
		return ""
	}
	if filepath.IsAbs(m.Next) || m.path == "" {
		return m.Next
	}
	return filepath.Join(filepath.Dir(m.path), m.Next)
}

// StageName returns Stage, or the file name without extension.
func (m *Manifest) StageName() string {
	if m.Stage != "" {
		return m.Stage
	}
	if m.path != "" {
		base := filepath.Base(m.path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "boot"
}

// Marshal encodes the manifest back to YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

// ValidationError describes one problem at a path inside the manifest.
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("multiple manifest problems:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks structure and, when knownKind is non-nil, that every kind
// is registered. Null declarations are not errors.
func (m *Manifest) Validate(knownKind func(string) bool) error {
	var errs ValidationErrors
	seen := make(map[string]string)
	m.validateSteps("steps", m.Steps, knownKind, seen, &errs)

	if m.Next != "" && m.path != "" && filepath.Clean(m.NextPath()) == filepath.Clean(m.path) {
		errs = append(errs, ValidationError{Path: "next", Message: "stage hands off to itself"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (m *Manifest) validateSteps(prefix string, steps []*Step, knownKind func(string) bool, seen map[string]string, errs *ValidationErrors) {
	for i, s := range steps {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		if s == nil {
			continue
		}

		if s.Kind == "" {
			*errs = append(*errs, ValidationError{Path: path, Message: "kind is required"})
		} else if knownKind != nil && !knownKind(s.Kind) {
			*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("unknown kind %q", s.Kind)})
		}

		if s.Name != "" {
			if prev, dup := seen[s.Name]; dup {
				*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("duplicate name %q (first at %s)", s.Name, prev)})
			} else {
				seen[s.Name] = path
			}
		}

		switch {
		case s.Kind == GroupKind && len(s.Children) == 0:
			*errs = append(*errs, ValidationError{Path: path, Message: "group has no children"})
		case s.Kind == RetryKind && len(s.Children) != 1:
			*errs = append(*errs, ValidationError{Path: path, Message: "retry needs exactly one child"})
		case s.Kind != GroupKind && s.Kind != RetryKind && len(s.Children) > 0:
			*errs = append(*errs, ValidationError{Path: path, Message: "only groups and retries may have children"})
		}

		m.validateSteps(path+".children", s.Children, knownKind, seen, errs)
	}
}
