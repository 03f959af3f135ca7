package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the default queue enrichment workflows run on.
const TaskQueue = "trailkit-enrichment"

// EnrichmentInput is the input for the enrichment workflow.
type EnrichmentInput struct {
	SessionID   string
	Workspace   string
	SelectedIDs []string
}

// WorkflowID is the Temporal workflow id used for a session.
func WorkflowID(sessionID string) string {
	return "trailkit-enrich-" + sessionID
}

// EnrichmentWorkflow claims a pending session, runs assemble, sample and
// classify, and filter as separate activities, then marks the session done.
// If any stage fails the session is marked failed with the stage's error
// (saga compensation). Stages are not retried: a retry is a new session
// run requested by the client.
func EnrichmentWorkflow(ctx workflow.Context, input EnrichmentInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting enrichment workflow", "session", input.SessionID, "selected", len(input.SelectedIDs))

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	// Step 1: claim the session
	if err := workflow.ExecuteActivity(ctx, "BeginRun", input.SessionID).Get(ctx, nil); err != nil {
		return err
	}

	// Step 2: assemble
	var features int
	err := workflow.ExecuteActivity(ctx, "AssembleRoute", input).Get(ctx, &features)
	if err != nil {
		return fail(ctx, input.SessionID, err)
	}

	// Step 3: sample elevation and classify slope
	if err := workflow.ExecuteActivity(ctx, "EnrichRoute", input.SessionID).Get(ctx, &features); err != nil {
		return fail(ctx, input.SessionID, err)
	}

	// Step 4: filter trailheads
	var kept int
	if err := workflow.ExecuteActivity(ctx, "FilterTrailheads", input.SessionID, input.Workspace).Get(ctx, &kept); err != nil {
		return fail(ctx, input.SessionID, err)
	}

	if err := workflow.ExecuteActivity(ctx, "CompleteRun", input.SessionID).Get(ctx, nil); err != nil {
		return err
	}
	logger.Info("Enrichment finished", "session", input.SessionID, "segments", features, "trailheads", kept)
	return nil
}

// fail records the stage error on the session and returns it.
func fail(ctx workflow.Context, sessionID string, err error) error {
	workflow.GetLogger(ctx).Warn("enrichment stage failed, marking session failed", "session", sessionID, "error", err)
	if ferr := workflow.ExecuteActivity(ctx, "FailRun", sessionID, failureReason(err)).Get(ctx, nil); ferr != nil {
		workflow.GetLogger(ctx).Error("could not record failure", "session", sessionID, "error", ferr)
	}
	return err
}

// failureReason strips the Temporal activity wrapper so the session reason
// reads like the one the local dispatcher records.
func failureReason(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	return err.Error()
}
