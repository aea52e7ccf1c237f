// Package errors defines the structured errors surfaced by the deployment
// orchestrator. Every failure recorded in a deployment report carries a Kind,
// which says which layer produced it, and an ErrorCode, which says what went
// wrong. Codes are strings so they serialize naturally into JSON reports.
package errors

// ErrorCode represents a specific failure condition.
type ErrorCode string

const (
	// Validation errors.

	// CodeInvalidManifest indicates the manifest could not be decoded or is structurally invalid.
	CodeInvalidManifest ErrorCode = "INVALID_MANIFEST"

	// CodeUnsupportedVersion indicates the manifest schema version is not supported.
	CodeUnsupportedVersion ErrorCode = "UNSUPPORTED_MANIFEST_VERSION"

	// CodeUnknownStage indicates a requested stage is not declared in the manifest.
	CodeUnknownStage ErrorCode = "UNKNOWN_STAGE"

	// CodeInvalidReference indicates a manifest element references something undeclared.
	CodeInvalidReference ErrorCode = "INVALID_REFERENCE"

	// CodeInvalidInput indicates a parameter or argument is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates the tool configuration is invalid.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Resolution errors.

	// CodeUndefinedVariable indicates a template referenced a variable with no value and no default.
	CodeUndefinedVariable ErrorCode = "UNDEFINED_VARIABLE"

	// CodeSecretUnavailable indicates a secret reference could not be fetched.
	CodeSecretUnavailable ErrorCode = "SECRET_UNAVAILABLE"

	// CodeCyclicOrTooDeep indicates template expansion exceeded the nesting limit.
	CodeCyclicOrTooDeep ErrorCode = "CYCLIC_OR_TOO_DEEP"

	// CodeMalformedTemplate indicates a template has unbalanced or empty expressions.
	CodeMalformedTemplate ErrorCode = "MALFORMED_TEMPLATE"

	// Registry errors.

	// CodeUnknownActionType indicates no handler is registered for an action type.
	CodeUnknownActionType ErrorCode = "UNKNOWN_ACTION_TYPE"

	// CodeAlreadyRegistered indicates a handler was registered twice for the same type.
	CodeAlreadyRegistered ErrorCode = "ALREADY_REGISTERED"

	// Collaborator errors.

	// CodeNotFound indicates a remote resource does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeForbidden indicates the caller lacks permission for a remote operation.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// CodeExecutionFailed indicates an external command or handler failed.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodePublishFailed indicates an event could not be delivered.
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// CodeUnavailable indicates a collaborator is temporarily unavailable.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Lifecycle errors.

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCancelled indicates the caller cancelled the operation.
	CodeCancelled ErrorCode = "CANCELLED"

	// Generic errors.

	// CodeInternal indicates an internal error occurred.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown indicates an unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Kind groups error codes by the layer that produced them.
type Kind string

const (
	KindValidation   Kind = "Validation"
	KindResolution   Kind = "Resolution"
	KindRegistry     Kind = "Registry"
	KindCollaborator Kind = "Collaborator"
	KindTimeout      Kind = "Timeout"
	KindCancelled    Kind = "Cancelled"
	KindInternal     Kind = "Internal"
)

var codeKinds = map[ErrorCode]Kind{
	CodeInvalidManifest:    KindValidation,
	CodeUnsupportedVersion: KindValidation,
	CodeUnknownStage:       KindValidation,
	CodeInvalidReference:   KindValidation,
	CodeInvalidInput:       KindValidation,
	CodeInvalidConfig:      KindValidation,
	CodeUndefinedVariable:  KindResolution,
	CodeSecretUnavailable:  KindResolution,
	CodeCyclicOrTooDeep:    KindResolution,
	CodeMalformedTemplate:  KindResolution,
	CodeUnknownActionType:  KindRegistry,
	CodeAlreadyRegistered:  KindRegistry,
	CodeNotFound:           KindCollaborator,
	CodeForbidden:          KindCollaborator,
	CodeExecutionFailed:    KindCollaborator,
	CodePublishFailed:      KindCollaborator,
	CodeUnavailable:        KindCollaborator,
	CodeTimeout:            KindTimeout,
	CodeCancelled:          KindCancelled,
	CodeInternal:           KindInternal,
	CodeUnknown:            KindInternal,
}

// Kind returns the layer the code belongs to.
func (c ErrorCode) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindInternal
}
