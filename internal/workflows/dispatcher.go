package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"

	"github.com/samirrijal/trailkit/internal/core/ports"
)

// Dispatcher implements ports.Dispatcher by starting an EnrichmentWorkflow
// for every job.
type Dispatcher struct {
	client    client.Client
	taskQueue string
}

// NewDispatcher creates a Temporal-backed dispatcher. An empty taskQueue
// uses TaskQueue.
func NewDispatcher(c client.Client, taskQueue string) *Dispatcher {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &Dispatcher{client: c, taskQueue: taskQueue}
}

// Dispatch starts the workflow and returns once Temporal has accepted it.
func (d *Dispatcher) Dispatch(ctx context.Context, job ports.EnrichmentJob) error {
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(job.SessionID),
		TaskQueue: d.taskQueue,
	}
	input := EnrichmentInput{
		SessionID:   job.SessionID,
		Workspace:   job.Workspace,
		SelectedIDs: job.SelectedIDs,
	}
	run, err := d.client.ExecuteWorkflow(ctx, opts, EnrichmentWorkflow, input)
	if err != nil {
		return fmt.Errorf("start enrichment workflow: %w", err)
	}
	slog.InfoContext(ctx, "enrichment workflow started", "session", job.SessionID, "workflow", run.GetID(), "run", run.GetRunID())
	return nil
}
