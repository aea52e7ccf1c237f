package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
)

// Connection statuses reported by datazone.create_connection.
const (
	ConnectionCreated   = "created"
	ConnectionUpdated   = "updated"
	ConnectionUnchanged = "unchanged"
)

// ConnectionAPI is the subset of the Glue client used to manage connections.
type ConnectionAPI interface {
	GetConnection(ctx context.Context, params *glue.GetConnectionInput, optFns ...func(*glue.Options)) (*glue.GetConnectionOutput, error)
	CreateConnection(ctx context.Context, params *glue.CreateConnectionInput, optFns ...func(*glue.Options)) (*glue.CreateConnectionOutput, error)
	UpdateConnection(ctx context.Context, params *glue.UpdateConnectionInput, optFns ...func(*glue.Options)) (*glue.UpdateConnectionOutput, error)
}

// connectionCreate makes sure a catalog connection exists with the declared
// type and properties. It is idempotent: an identical connection is left
// alone and a differing one is updated in place.
//
// Parameters: name, connection_type (required), properties, description, catalog_id.
type connectionCreate struct {
	api    ConnectionAPI
	logger *slog.Logger
}

func (h *connectionCreate) Execute(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
	name, err := inv.Params.String("name")
	if err != nil {
		return bootstrap.Result{}, err
	}
	connType, err := inv.Params.String("connection_type")
	if err != nil {
		return bootstrap.Result{}, err
	}
	props, err := inv.Params.StringMap("properties")
	if err != nil {
		return bootstrap.Result{}, err
	}
	description, err := inv.Params.OptionalString("description", "")
	if err != nil {
		return bootstrap.Result{}, err
	}
	catalogID, err := inv.Params.OptionalString("catalog_id", "")
	if err != nil {
		return bootstrap.Result{}, err
	}

	input := &types.ConnectionInput{
		Name:                 aws.String(name),
		ConnectionType:       types.ConnectionType(strings.ToUpper(connType)),
		ConnectionProperties: props,
		Description:          optionalString(description),
	}

	status, err := h.upsert(ctx, input, optionalString(catalogID))
	if err != nil {
		return bootstrap.Result{}, err
	}
	h.logger.InfoContext(ctx, "connection "+status, "connection", name, "type", input.ConnectionType)

	return bootstrap.Result{
		Payload: map[string]any{"connection": name, "type": string(input.ConnectionType), "status": status},
		Outputs: map[string]string{"connection_id": name, "status": status},
	}, nil
}

func (h *connectionCreate) upsert(ctx context.Context, input *types.ConnectionInput, catalogID *string) (string, error) {
	name := aws.ToString(input.Name)
	out, err := h.api.GetConnection(ctx, &glue.GetConnectionInput{
		Name:      input.Name,
		CatalogId: catalogID,
	})
	var notFound *types.EntityNotFoundException
	switch {
	case err == nil && out.Connection != nil:
		if sameConnection(out.Connection, input) {
			return ConnectionUnchanged, nil
		}
		if _, err := h.api.UpdateConnection(ctx, &glue.UpdateConnectionInput{
			Name:            input.Name,
			CatalogId:       catalogID,
			ConnectionInput: input,
		}); err != nil {
			return "", connectionError(err, "update", name)
		}
		return ConnectionUpdated, nil
	case err == nil, errors.As(err, &notFound):
		if _, err := h.api.CreateConnection(ctx, &glue.CreateConnectionInput{
			CatalogId:       catalogID,
			ConnectionInput: input,
		}); err != nil {
			return "", connectionError(err, "create", name)
		}
		return ConnectionCreated, nil
	default:
		return "", connectionError(err, "get", name)
	}
}

func sameConnection(current *types.Connection, desired *types.ConnectionInput) bool {
	if current.ConnectionType != desired.ConnectionType {
		return false
	}
	if desired.Description != nil && aws.ToString(current.Description) != aws.ToString(desired.Description) {
		return false
	}
	return maps.Equal(current.ConnectionProperties, desired.ConnectionProperties)
}

func connectionError(err error, op, name string) error {
	code := errors.CodeExecutionFailed
	var apiErr smithy.APIError
	switch {
	case errors.As(err, new(*types.EntityNotFoundException)):
		code = errors.CodeNotFound
	case errors.As(err, &apiErr) && strings.HasPrefix(apiErr.ErrorCode(), "AccessDenied"):
		code = errors.CodeForbidden
	}
	return errors.WrapWithContext(err, code, fmt.Sprintf("glue %s connection %s failed", op, name),
		map[string]interface{}{"connection": name})
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
