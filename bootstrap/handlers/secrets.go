package handlers

import (
	"context"
	"log/slog"

	"github.com/aws/CICD-for-SageMakerUnifiedStudio/bootstrap"
)

// secretsPut writes value to path. The value is never logged or reported.
type secretsPut struct {
	store  SecretWriter
	logger *slog.Logger
}

func (h *secretsPut) Execute(ctx context.Context, inv bootstrap.Invocation) (bootstrap.Result, error) {
	path, err := inv.Params.String("path")
	if err != nil {
		return bootstrap.Result{}, err
	}
	value, err := inv.Params.String("value")
	if err != nil {
		return bootstrap.Result{}, err
	}

	if err := h.store.Store(ctx, path, []byte(value)); err != nil {
		return bootstrap.Result{}, err
	}
	h.logger.InfoContext(ctx, "secret stored", "path", path)
	return bootstrap.Result{
		Payload: map[string]any{"path": path},
		Outputs: map[string]string{"path": path},
	}, nil
}
