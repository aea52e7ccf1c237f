package manifest

import (
	"fmt"
	"strings"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Diagnostic is a single validation finding.
type Diagnostic struct {
	// Path locates the offending element, e.g. "stages.dev.bootstrap.actions[2].type".
	Path    string           `json:"path"`
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Path, d.Message)
}

// Diagnostics is the full result of a validation pass.
type Diagnostics []Diagnostic

// Err returns nil when there are no diagnostics, otherwise a validation error
// listing all of them.
func (d Diagnostics) Err() error {
	if len(d) == 0 {
		return nil
	}
	msgs := make([]string, len(d))
	for i, diag := range d {
		msgs[i] = diag.String()
	}
	first := errors.New(d[0].Code, d[0].Message)
	return errors.WrapWithContext(first, errors.CodeInvalidManifest,
		"manifest validation failed: "+strings.Join(msgs, "; "),
		map[string]interface{}{"diagnostics": len(d)})
}

// ActionTypeChecker reports whether an action type has a registered handler.
type ActionTypeChecker func(actionType string) bool

// ValidateOptions configures a validation pass.
type ValidateOptions struct {
	// Stages restricts stage-specific checks to the named stages. Every name
	// must be declared in the manifest. Empty means all stages. Action types
	// are checked on every stage regardless.
	Stages []string
	// KnownActionType, when set, rejects bootstrap action types it does not know.
	KnownActionType ActionTypeChecker
}

// Validate runs the pre-flight checks over the whole manifest and returns every
// finding. It has no side effects and never contacts a collaborator.
func Validate(m *Manifest, opts ValidateOptions) Diagnostics {
	v := &validator{m: m}

	v.checkHeader()
	v.checkContent()

	requested := make(map[string]bool, len(opts.Stages))
	for _, name := range opts.Stages {
		if _, ok := m.Stage(name); !ok {
			v.add("stages", errors.CodeUnknownStage, fmt.Sprintf("stage %q is not declared in the manifest", name))
			continue
		}
		requested[name] = true
	}
	for _, st := range m.Stages {
		if len(opts.Stages) == 0 || requested[st.Name] {
			v.checkStage(st, opts.KnownActionType)
			continue
		}
		// Action types are checked on every stage so that the verdict does
		// not depend on which stages were asked for.
		for i, a := range st.Bootstrap.Actions {
			v.checkActionType(actionPath(st, i), a, opts.KnownActionType)
		}
	}

	return v.diags
}

type validator struct {
	m     *Manifest
	diags Diagnostics
}

func (v *validator) add(path string, code errors.ErrorCode, msg string) {
	v.diags = append(v.diags, Diagnostic{Path: path, Code: code, Message: msg})
}

func (v *validator) checkHeader() {
	if strings.TrimSpace(v.m.ApplicationName) == "" {
		v.add("applicationName", errors.CodeInvalidManifest, "application name is required")
	}

	ok, err := IsCompatible(v.m.Version)
	switch {
	case err != nil:
		v.add("version", errors.CodeUnsupportedVersion, err.Error())
	case !ok:
		v.add("version", errors.CodeUnsupportedVersion,
			fmt.Sprintf("manifest version %s is not compatible with schema %s", v.m.Version, SchemaVersion))
	}

	if len(v.m.Stages) == 0 {
		v.add("stages", errors.CodeInvalidManifest, "at least one stage is required")
	}
}

func (v *validator) checkContent() {
	c := v.m.Content

	names := make(map[string]string)
	unique := func(path, name string) {
		if name == "" {
			v.add(path+".name", errors.CodeInvalidManifest, "name is required")
			return
		}
		if prev, ok := names[name]; ok {
			v.add(path+".name", errors.CodeInvalidManifest,
				fmt.Sprintf("content name %q already used by %s", name, prev))
			return
		}
		names[name] = path
	}

	for i, it := range c.Storage {
		path := fmt.Sprintf("content.storage[%d]", i)
		unique(path, it.Name)
		if it.Path == "" {
			v.add(path+".path", errors.CodeInvalidManifest, "path is required")
		}
	}
	for i, it := range c.Git {
		path := fmt.Sprintf("content.git[%d]", i)
		unique(path, it.Name)
		if it.URL == "" {
			v.add(path+".url", errors.CodeInvalidManifest, "url is required")
		}
	}
	for i, it := range c.Dashboards {
		path := fmt.Sprintf("content.dashboards[%d]", i)
		unique(path, it.Name)
		if it.Path == "" {
			v.add(path+".path", errors.CodeInvalidManifest, "path is required")
		}
	}

	workflows := make(map[string]bool)
	for i, w := range c.Workflows {
		path := fmt.Sprintf("content.workflows[%d]", i)
		switch {
		case w.Name == "":
			v.add(path+".name", errors.CodeInvalidManifest, "name is required")
		case workflows[w.Name]:
			v.add(path+".name", errors.CodeInvalidManifest, fmt.Sprintf("workflow %q declared twice", w.Name))
		}
		workflows[w.Name] = true
		if w.Script == "" {
			v.add(path+".script", errors.CodeInvalidManifest, "script is required")
		}
	}
}

func (v *validator) checkStage(st *Stage, known ActionTypeChecker) {
	base := "stages." + st.Name

	conns := make(map[string]bool)
	for i, c := range st.Connections {
		path := fmt.Sprintf("%s.connections[%d]", base, i)
		switch {
		case c.Name == "":
			v.add(path+".name", errors.CodeInvalidManifest, "name is required")
		case conns[c.Name]:
			v.add(path+".name", errors.CodeInvalidManifest, fmt.Sprintf("connection %q declared twice", c.Name))
		}
		conns[c.Name] = true
	}

	actions := make(map[string]int)
	for i, a := range st.Bootstrap.Actions {
		path := actionPath(st, i)

		if a.Name != "" {
			if prev, ok := actions[a.Name]; ok {
				v.add(path+".name", errors.CodeInvalidManifest,
					fmt.Sprintf("action name %q already used by actions[%d]", a.Name, prev))
			} else {
				actions[a.Name] = i
			}
			if isIndex(a.Name) {
				v.add(path+".name", errors.CodeInvalidManifest,
					fmt.Sprintf("action name %q must not be a number", a.Name))
			}
		}

		if !v.checkActionType(path, a, known) {
			continue
		}

		if ref, ok := a.Parameters["workflow"].(string); ok && !strings.Contains(ref, "${") {
			if _, declared := v.m.Content.Workflow(ref); !declared {
				v.add(path+".workflow", errors.CodeInvalidReference,
					fmt.Sprintf("workflow %q is not declared in content", ref))
			}
		}
	}
}

// checkActionType reports whether a's type is well formed.
func (v *validator) checkActionType(path string, a BootstrapAction, known ActionTypeChecker) bool {
	category, verb, ok := strings.Cut(a.Type, ".")
	if !ok || category == "" || verb == "" {
		v.add(path+".type", errors.CodeInvalidManifest,
			fmt.Sprintf("action type %q must have the form category.verb", a.Type))
		return false
	}
	if known != nil && !known(a.Type) {
		v.add(path+".type", errors.CodeUnknownActionType, fmt.Sprintf("unknown action type %q", a.Type))
	}
	return true
}

func actionPath(st *Stage, i int) string {
	return fmt.Sprintf("stages.%s.bootstrap.actions[%d]", st.Name, i)
}

// isIndex reports whether name is all digits. Action outputs are published
// under both the index and the name, so such a name would shadow an index.
func isIndex(name string) bool {
	return strings.Trim(name, "0123456789") == ""
}
