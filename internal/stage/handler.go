// Package stage defines the contract between the dispatcher and the
// pipeline's stage workers.
package stage

import (
	"context"

	"icast/internal/store"
)

// Handler describes the contract the dispatcher needs from each stage.
// Execute runs the stage's work for one task; the dispatcher owns stage
// transitions, event consumption, and failure recording around it.
type Handler interface {
	Execute(context.Context, *store.Task) error
	HealthCheck(context.Context) Health
}
