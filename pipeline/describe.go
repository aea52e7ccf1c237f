package pipeline

import (
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
)

// Plan is what Deploy would do for a manifest, computed without side effects.
type Plan struct {
	Application string               `json:"application"`
	Diagnostics manifest.Diagnostics `json:"diagnostics,omitempty"`
	Stages      []StagePlan          `json:"stages"`
}

// Valid reports whether the manifest passed pre-flight validation.
func (p *Plan) Valid() bool {
	return len(p.Diagnostics) == 0
}

// StagePlan lists the phases that would run for one stage.
type StagePlan struct {
	Stage  string        `json:"stage"`
	Target string        `json:"target"`
	Region string        `json:"region,omitempty"`
	Bucket string        `json:"bucket,omitempty"`
	Phases []PlannedStep `json:"phases"`
}

// PlannedStep is a phase and the items it would process.
type PlannedStep struct {
	Phase Phase    `json:"phase"`
	Run   bool     `json:"run"`
	Items []string `json:"items,omitempty"`
}

// Describe validates m against registry and returns the deployment plan of
// the named stages, or of every stage when stages is empty. Templates are
// not resolved and no collaborator is contacted.
func Describe(m *manifest.Manifest, registry *bootstrap.Registry, stages []string) *Plan {
	opts := manifest.ValidateOptions{Stages: stages}
	if registry != nil {
		opts.KnownActionType = registry.Has
	}
	plan := &Plan{
		Application: m.ApplicationName,
		Diagnostics: manifest.Validate(m, opts),
	}

	var contentItems, workflows []string
	for _, it := range m.Content.Storage {
		contentItems = append(contentItems, "storage:"+it.Name)
	}
	for _, it := range m.Content.Git {
		contentItems = append(contentItems, "git:"+it.Name)
	}
	for _, it := range m.Content.Dashboards {
		contentItems = append(contentItems, "dashboard:"+it.Name)
	}
	for _, wf := range m.Content.Workflows {
		workflows = append(workflows, wf.Name)
	}

	for _, name := range requestedStages(m, stages) {
		st, ok := m.Stage(name)
		if !ok {
			continue
		}
		var actions []string
		for _, a := range st.Bootstrap.Actions {
			label := a.Type
			if a.Name != "" {
				label += " (" + a.Name + ")"
			}
			actions = append(actions, label)
		}
		plan.Stages = append(plan.Stages, StagePlan{
			Stage:  st.Name,
			Target: st.TargetName(),
			Region: st.Region,
			Bucket: st.Bucket,
			Phases: []PlannedStep{
				{Phase: PhaseInitialization, Run: true, Items: connectionNames(st)},
				{Phase: PhaseContentDeployment, Run: len(contentItems) > 0, Items: contentItems},
				{Phase: PhaseWorkflowDeployment, Run: len(workflows) > 0, Items: workflows},
				{Phase: PhaseBootstrapExecution, Run: len(actions) > 0, Items: actions},
				{Phase: PhaseEventEmission, Run: st.EventsEnabled()},
			},
		})
	}
	return plan
}

func connectionNames(st *manifest.Stage) []string {
	var names []string
	for _, c := range st.Connections {
		names = append(names, "connection:"+c.Name)
	}
	return names
}
