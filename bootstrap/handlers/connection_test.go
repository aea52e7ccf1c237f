package handlers_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap/handlers"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/errors"
	"github.com/aws/CICD-for-SageMakerUnifiedStudio/manifest"
)

type mockConnections struct {
	getFn    func(*glue.GetConnectionInput) (*glue.GetConnectionOutput, error)
	createFn func(*glue.CreateConnectionInput) (*glue.CreateConnectionOutput, error)
	updateFn func(*glue.UpdateConnectionInput) (*glue.UpdateConnectionOutput, error)

	created []*glue.CreateConnectionInput
	updated []*glue.UpdateConnectionInput
}

func (m *mockConnections) GetConnection(_ context.Context, in *glue.GetConnectionInput, _ ...func(*glue.Options)) (*glue.GetConnectionOutput, error) {
	if m.getFn != nil {
		return m.getFn(in)
	}
	return nil, &types.EntityNotFoundException{Message: aws.String("not found")}
}

func (m *mockConnections) CreateConnection(_ context.Context, in *glue.CreateConnectionInput, _ ...func(*glue.Options)) (*glue.CreateConnectionOutput, error) {
	m.created = append(m.created, in)
	if m.createFn != nil {
		return m.createFn(in)
	}
	return &glue.CreateConnectionOutput{}, nil
}

func (m *mockConnections) UpdateConnection(_ context.Context, in *glue.UpdateConnectionInput, _ ...func(*glue.Options)) (*glue.UpdateConnectionOutput, error) {
	m.updated = append(m.updated, in)
	if m.updateFn != nil {
		return m.updateFn(in)
	}
	return &glue.UpdateConnectionOutput{}, nil
}

func existing(connType types.ConnectionType, props map[string]string) func(*glue.GetConnectionInput) (*glue.GetConnectionOutput, error) {
	return func(in *glue.GetConnectionInput) (*glue.GetConnectionOutput, error) {
		return &glue.GetConnectionOutput{Connection: &types.Connection{
			Name:                 in.Name,
			ConnectionType:       connType,
			ConnectionProperties: props,
		}}, nil
	}
}

func TestConnectionCreate(t *testing.T) {
	params := map[string]any{
		"name":            "warehouse",
		"connection_type": "jdbc",
		"properties": map[string]any{
			"JDBC_CONNECTION_URL": "jdbc:redshift://dev.example.com:5439/db",
			"USERNAME":            "etl",
		},
	}
	desired := map[string]string{
		"JDBC_CONNECTION_URL": "jdbc:redshift://dev.example.com:5439/db",
		"USERNAME":            "etl",
	}

	tests := []struct {
		name    string
		get     func(*glue.GetConnectionInput) (*glue.GetConnectionOutput, error)
		status  string
		created int
		updated int
	}{
		{
			name:    "missing connection is created",
			status:  handlers.ConnectionCreated,
			created: 1,
		},
		{
			name:   "identical connection is unchanged",
			get:    existing(types.ConnectionTypeJdbc, desired),
			status: handlers.ConnectionUnchanged,
		},
		{
			name:    "differing properties are updated",
			get:     existing(types.ConnectionTypeJdbc, map[string]string{"JDBC_CONNECTION_URL": "jdbc:redshift://old", "USERNAME": "etl"}),
			status:  handlers.ConnectionUpdated,
			updated: 1,
		},
		{
			name:    "differing type is updated",
			get:     existing(types.ConnectionTypeNetwork, desired),
			status:  handlers.ConnectionUpdated,
			updated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockConnections{getFn: tt.get}
			reg := registry(t, handlers.Deps{Connections: api})

			res, err := execute(t, reg, invocation(t, "datazone.create_connection", params, &manifest.Manifest{}, devStage()))
			require.NoError(t, err)

			assert.Equal(t, map[string]string{"connection_id": "warehouse", "status": tt.status}, res.Outputs)
			require.Len(t, api.created, tt.created)
			require.Len(t, api.updated, tt.updated)

			var sent *types.ConnectionInput
			switch {
			case tt.created > 0:
				sent = api.created[0].ConnectionInput
			case tt.updated > 0:
				assert.Equal(t, "warehouse", aws.ToString(api.updated[0].Name))
				sent = api.updated[0].ConnectionInput
			default:
				return
			}
			assert.Equal(t, types.ConnectionTypeJdbc, sent.ConnectionType)
			assert.Equal(t, desired, sent.ConnectionProperties)
		})
	}
}

func TestConnectionCreateErrors(t *testing.T) {
	denied := &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}

	tests := []struct {
		name   string
		params map[string]any
		api    *mockConnections
		code   errors.ErrorCode
	}{
		{
			name:   "name required",
			params: map[string]any{"connection_type": "JDBC"},
			api:    &mockConnections{},
			code:   errors.CodeInvalidInput,
		},
		{
			name:   "type required",
			params: map[string]any{"name": "warehouse"},
			api:    &mockConnections{},
			code:   errors.CodeInvalidInput,
		},
		{
			name:   "lookup denied",
			params: map[string]any{"name": "warehouse", "connection_type": "JDBC"},
			api: &mockConnections{getFn: func(*glue.GetConnectionInput) (*glue.GetConnectionOutput, error) {
				return nil, denied
			}},
			code: errors.CodeForbidden,
		},
		{
			name:   "create fails",
			params: map[string]any{"name": "warehouse", "connection_type": "JDBC"},
			api: &mockConnections{createFn: func(*glue.CreateConnectionInput) (*glue.CreateConnectionOutput, error) {
				return nil, &types.InvalidInputException{Message: aws.String("bad")}
			}},
			code: errors.CodeExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry(t, handlers.Deps{Connections: tt.api})
			_, err := execute(t, reg, invocation(t, "datazone.create_connection", tt.params, &manifest.Manifest{}, devStage()))
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}
