package resolver

// Well-known keys injected into a stage scope by the deployment pipeline.
const (
	KeyStageName    = "stage.name"
	KeyStageTarget  = "stage.target"
	KeyStageRegion  = "stage.region"
	KeyStageBucket  = "stage.bucket"
	KeyStagePrefix  = "stage.prefix"
	KeyStageAccount = "stage.account"
	KeyAppName      = "app.name"
)

// Prefixes of injected key families.
const (
	ConnectionPrefix = "connection."
	WorkflowPrefix   = "workflow."
)

// ConnectionKey returns the scope key of a connection property.
func ConnectionKey(connection, property string) string {
	return ConnectionPrefix + connection + "." + property
}

// WorkflowKey returns the scope key of a deployed workflow attribute.
func WorkflowKey(workflow, attribute string) string {
	return WorkflowPrefix + workflow + "." + attribute
}
