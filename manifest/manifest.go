// Package manifest provides the typed, read-only model of a deployment
// manifest together with its YAML loader and pre-flight validation.
//
// A manifest describes one application: the content to ship (storage items,
// git sources, dashboard definitions, workflow definitions) and a set of named
// stages, each with its own variables, connections and ordered bootstrap
// actions. Values anywhere in the manifest may contain unresolved templates
// (${VAR}, ${VAR:default}, ${SECRET:path}); the manifest package never
// resolves them.
package manifest

import (
	"fmt"

	"github.com/go-git/go-billy/v5"
	"gopkg.in/yaml.v3"
)

// Manifest is the in-memory representation of a deployment manifest.
type Manifest struct {
	// Version is the manifest schema version the file was written against.
	Version string `yaml:"version"`
	// ApplicationName identifies the application being deployed.
	ApplicationName string `yaml:"applicationName"`
	// Variables are manifest-level template variables.
	Variables map[string]string `yaml:"variables"`
	// Content lists everything shipped to every stage.
	Content Content `yaml:"content"`
	// Stages holds the declared stages in file order.
	Stages Stages `yaml:"stages"`

	// Dir is the directory containing the manifest on the host filesystem.
	Dir string `yaml:"-"`
	// FS is the filesystem rooted at Dir. Relative content paths resolve against it.
	FS billy.Filesystem `yaml:"-"`
}

// Content groups the content declarations of a manifest.
type Content struct {
	Storage    []StorageItem   `yaml:"storage"`
	Git        []GitItem       `yaml:"git"`
	Dashboards []DashboardItem `yaml:"dashboards"`
	Workflows  []Workflow      `yaml:"workflows"`
}

// Empty reports whether there is nothing to transfer in the content phase.
func (c Content) Empty() bool {
	return len(c.Storage) == 0 && len(c.Git) == 0 && len(c.Dashboards) == 0
}

// Workflow returns the workflow declared under name.
func (c Content) Workflow(name string) (Workflow, bool) {
	for _, w := range c.Workflows {
		if w.Name == name {
			return w, true
		}
	}
	return Workflow{}, false
}

// StorageItem is a local file or directory uploaded to the stage bucket.
type StorageItem struct {
	Name    string   `yaml:"name"`
	Path    string   `yaml:"path"`
	Target  string   `yaml:"target"`
	Exclude []string `yaml:"exclude"`
}

// GitItem is a source repository cloned and uploaded to the stage bucket.
type GitItem struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Ref    string `yaml:"ref"`
	Target string `yaml:"target"`
	// Token authenticates HTTPS clones. Usually a ${SECRET:...} reference.
	Token string `yaml:"token"`
}

// DashboardItem is a dashboard definition file uploaded for import.
type DashboardItem struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Target string `yaml:"target"`
}

// Workflow is a job definition submitted to the workflow engine.
type Workflow struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Script      string            `yaml:"script"`
	Role        string            `yaml:"role"`
	Command     string            `yaml:"command"`
	GlueVersion string            `yaml:"glueVersion"`
	Arguments   map[string]string `yaml:"arguments"`
}

// Stage is a named deployment target.
type Stage struct {
	Name        string            `yaml:"-"`
	Target      string            `yaml:"target"`
	Region      string            `yaml:"region"`
	Bucket      string            `yaml:"bucket"`
	Variables   map[string]string `yaml:"variables"`
	Connections []Connection      `yaml:"connections"`
	Bootstrap   Bootstrap         `yaml:"bootstrap"`
	// Events disables deployment event emission for this stage when false.
	Events *bool `yaml:"events"`
}

// EventsEnabled reports whether deployment events are emitted for the stage.
func (s *Stage) EventsEnabled() bool {
	return s.Events == nil || *s.Events
}

// TargetName returns the environment identifier, defaulting to the stage name.
func (s *Stage) TargetName() string {
	if s.Target != "" {
		return s.Target
	}
	return s.Name
}

// Bootstrap holds a stage's ordered initialization actions.
type Bootstrap struct {
	Actions []BootstrapAction `yaml:"actions"`
}

// Connection is a named reference to an external data or compute resource.
type Connection struct {
	Name       string            `yaml:"name"`
	Type       string            `yaml:"type"`
	Properties map[string]string `yaml:"properties"`
}

// BootstrapAction is one declarative initialization step. In YAML every key
// other than type and name is collected into Parameters.
type BootstrapAction struct {
	Type       string
	Name       string
	Parameters map[string]any
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *BootstrapAction) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("bootstrap action at line %d: %w", node.Line, err)
	}

	a.Parameters = make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("bootstrap action at line %d: type must be a string", node.Line)
			}
			a.Type = s
		case "name":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("bootstrap action at line %d: name must be a string", node.Line)
			}
			a.Name = s
		default:
			a.Parameters[k] = v
		}
	}
	return nil
}

// Stages is the ordered list of stages declared in a manifest.
type Stages []*Stage

// UnmarshalYAML decodes the stages mapping while preserving file order and
// rejecting duplicate stage names.
func (s *Stages) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("stages at line %d: expected a mapping", node.Line)
	}

	seen := make(map[string]bool, len(node.Content)/2)
	out := make(Stages, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode, valNode := node.Content[i], node.Content[i+1]
		name := keyNode.Value
		if seen[name] {
			return fmt.Errorf("stages at line %d: duplicate stage %q", keyNode.Line, name)
		}
		seen[name] = true

		stage := &Stage{}
		if err := valNode.Decode(stage); err != nil {
			return fmt.Errorf("stage %q: %w", name, err)
		}
		stage.Name = name
		out = append(out, stage)
	}
	*s = out
	return nil
}

// Names returns the stage names in declaration order.
func (s Stages) Names() []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = st.Name
	}
	return names
}

// Stage returns the stage declared under name.
func (m *Manifest) Stage(name string) (*Stage, bool) {
	for _, st := range m.Stages {
		if st.Name == name {
			return st, true
		}
	}
	return nil, false
}
