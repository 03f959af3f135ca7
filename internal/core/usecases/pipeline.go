package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/pkg/geospatial"
	"github.com/samirrijal/trailkit/internal/pkg/metrics"
)

// Pipeline stage names, used in logs, metrics and session events.
const (
	StageAssemble = "assemble"
	StageSample   = "sample"
	StageClassify = "classify"
	StageFilter   = "filter"
)

// Stages bundles the pipeline components.
type Stages struct {
	Source     *FeatureSource
	Assembler  *RouteAssembler
	Sampler    *ElevationSampler
	Classifier *SlopeClassifier
	Filter     *TrailheadFilter
}

// PipelineService is the entry point used by the serving layer, the CLI and
// the workflow worker: fetch layers, start enrichment runs and report on
// sessions.
type PipelineService struct {
	layers     domain.LayerCatalog
	sessions   ports.SessionRepository
	store      ports.ArtifactStore
	stages     Stages
	events     ports.EventPublisher
	dispatcher ports.Dispatcher
	buffer     float64
}

// NewPipelineService creates a PipelineService that runs enrichment on its own
// goroutines until SetDispatcher installs another dispatcher.
func NewPipelineService(layers domain.LayerCatalog, sessions ports.SessionRepository, store ports.ArtifactStore, stages Stages, events ports.EventPublisher, runTimeout time.Duration) *PipelineService {
	p := &PipelineService{
		layers:   layers,
		sessions: sessions,
		store:    store,
		stages:   stages,
		events:   events,
		buffer:   DefaultBufferDegrees,
	}
	if stages.Filter != nil {
		p.buffer = stages.Filter.buffer
	}
	p.dispatcher = NewLocalDispatcher(p, runTimeout)
	return p
}

// SetDispatcher replaces the dispatcher used by AssembleAndEnrich.
func (p *PipelineService) SetDispatcher(d ports.Dispatcher) {
	p.dispatcher = d
}

// Shutdown stops the dispatcher when it supports being stopped.
func (p *PipelineService) Shutdown(ctx context.Context) error {
	if s, ok := p.dispatcher.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return nil
}

// Layers returns the layer catalog.
func (p *PipelineService) Layers() domain.LayerCatalog {
	return p.layers
}

// FetchAll fetches every catalog layer for bbox into a workspace. An empty
// workspace gets a fresh id. The returned error wraps domain.ErrNoDataFound
// when no layer had features.
func (p *PipelineService) FetchAll(ctx context.Context, workspace string, bbox domain.BoundingBox) (string, []domain.LayerResult, error) {
	if workspace == "" {
		workspace = uuid.NewString()
	}
	results, err := p.stages.Source.FetchAll(ctx, workspace, p.layers, bbox)
	return workspace, results, err
}

// AssembleAndEnrich registers a pending session and hands it to the
// dispatcher. It returns as soon as the session is queued.
func (p *PipelineService) AssembleAndEnrich(ctx context.Context, sessionID, workspace string, selectedIDs []string) (*domain.ProcessingSession, error) {
	ids := cleanIDs(selectedIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no segments selected", domain.ErrInvalidInput)
	}
	if err := domain.ValidateNamespace(workspace); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := domain.ValidateNamespace(sessionID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	s := &domain.ProcessingSession{
		ID:          sessionID,
		Workspace:   workspace,
		SelectedIDs: ids,
		State:       domain.SessionPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.sessions.Create(ctx, s); err != nil {
		return nil, err
	}
	metrics.SessionTransitions.WithLabelValues(string(domain.SessionPending)).Inc()
	p.publish(ctx, s, "")

	return p.dispatch(ctx, s)
}

// RetrySession puts a finished session back to pending and dispatches it again.
func (p *PipelineService) RetrySession(ctx context.Context, sessionID string) (*domain.ProcessingSession, error) {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !s.State.Terminal() {
		return nil, fmt.Errorf("%w: session %s is %s", domain.ErrSessionConflict, sessionID, s.State)
	}
	s, err = p.transition(ctx, s.ID, s.State, domain.SessionPending, "")
	if err != nil {
		return nil, err
	}
	return p.dispatch(ctx, s)
}

func (p *PipelineService) dispatch(ctx context.Context, s *domain.ProcessingSession) (*domain.ProcessingSession, error) {
	job := ports.EnrichmentJob{SessionID: s.ID, Workspace: s.Workspace, SelectedIDs: s.SelectedIDs}
	if err := p.dispatcher.Dispatch(ctx, job); err != nil {
		reason := "dispatch failed: " + err.Error()
		if failed, terr := p.transition(ctx, s.ID, domain.SessionPending, domain.SessionFailed, reason); terr == nil {
			return failed, fmt.Errorf("dispatch session %s: %w", s.ID, err)
		}
		return nil, fmt.Errorf("dispatch session %s: %w", s.ID, err)
	}
	slog.InfoContext(ctx, "session queued", "session", s.ID, "workspace", s.Workspace, "selected", len(s.SelectedIDs))
	return s, nil
}

// GetSession returns the current state of a session.
func (p *PipelineService) GetSession(ctx context.Context, sessionID string) (*domain.ProcessingSession, error) {
	return p.sessions.Get(ctx, sessionID)
}

// ListSessions returns one page of sessions, newest first, and the total
// number of sessions.
func (p *PipelineService) ListSessions(ctx context.Context, limit, offset int) ([]domain.ProcessingSession, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	total, err := p.sessions.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	list, err := p.sessions.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// InterruptedReason is recorded on sessions that were queued or running when
// the process that owned them stopped.
const InterruptedReason = "interrupted"

// RecoverInterrupted fails every pending or running session. It is meant for
// startup of a process that runs enrichment in-process: nothing else can
// still be working on those sessions, and without this they could never
// reach a terminal state. It returns the number of sessions failed.
func (p *PipelineService) RecoverInterrupted(ctx context.Context) (int, error) {
	var stuck []domain.ProcessingSession
	const page = 200
	for offset := 0; ; offset += page {
		list, err := p.sessions.List(ctx, page, offset)
		if err != nil {
			return 0, fmt.Errorf("list sessions: %w", err)
		}
		for _, s := range list {
			if !s.State.Terminal() {
				stuck = append(stuck, s)
			}
		}
		if len(list) < page {
			break
		}
	}

	recovered := 0
	for _, s := range stuck {
		_, err := p.transition(ctx, s.ID, s.State, domain.SessionFailed, InterruptedReason)
		if errors.Is(err, domain.ErrSessionConflict) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		slog.WarnContext(ctx, "session interrupted", "session", s.ID, "was", s.State)
		recovered++
	}
	return recovered, nil
}

// RunEnrichment executes a queued session: pending -> running -> done or
// failed. Exactly one caller can win the pending -> running transition.
// Every error, including a panic inside a stage, ends in the failed state.
func (p *PipelineService) RunEnrichment(ctx context.Context, job ports.EnrichmentJob) (err error) {
	ctx, span := tracer.Start(ctx, "Pipeline.RunEnrichment", trace.WithAttributes(
		attribute.String("session", job.SessionID),
		attribute.String("workspace", job.Workspace),
	))
	defer span.End()

	if err := p.BeginRun(ctx, job.SessionID); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during enrichment: %v", r)
		}
		// Record the outcome even if ctx has been cancelled or timed out.
		finalCtx := context.WithoutCancel(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.ErrorContext(finalCtx, "enrichment failed", "session", job.SessionID, "error", err)
			if terr := p.FailRun(finalCtx, job.SessionID, err.Error()); terr != nil {
				slog.ErrorContext(finalCtx, "could not record failure", "session", job.SessionID, "error", terr)
			}
			return
		}
		err = p.CompleteRun(finalCtx, job.SessionID)
	}()

	if _, err = p.Assemble(ctx, job.SessionID, job.Workspace, job.SelectedIDs); err != nil {
		return err
	}
	if _, err = p.Enrich(ctx, job.SessionID); err != nil {
		return err
	}
	_, err = p.FilterTrailheadsIfPresent(ctx, job.SessionID, job.Workspace)
	return err
}

// BeginRun claims a pending session and clears what an earlier run of it
// left behind. Only one caller can win.
func (p *PipelineService) BeginRun(ctx context.Context, sessionID string) error {
	if _, err := p.transition(ctx, sessionID, domain.SessionPending, domain.SessionRunning, ""); err != nil {
		return err
	}
	// A previous run's trailheads must not outlive this one.
	if err := p.store.Delete(ctx, sessionID, domain.ArtifactFilteredTrailheads); err != nil {
		err = fmt.Errorf("clear previous trailheads: %w", err)
		if ferr := p.FailRun(ctx, sessionID, err.Error()); ferr != nil {
			slog.ErrorContext(ctx, "could not record failure", "session", sessionID, "error", ferr)
		}
		return err
	}
	return nil
}

// CompleteRun marks a running session done.
func (p *PipelineService) CompleteRun(ctx context.Context, sessionID string) error {
	_, err := p.transition(ctx, sessionID, domain.SessionRunning, domain.SessionDone, "")
	return err
}

// FailRun marks a running session failed with a reason.
func (p *PipelineService) FailRun(ctx context.Context, sessionID, reason string) error {
	_, err := p.transition(ctx, sessionID, domain.SessionRunning, domain.SessionFailed, reason)
	return err
}

// FilterTrailheadsIfPresent runs FilterTrailheads but treats a missing or
// empty trailhead layer as nothing to filter. It returns the number of
// trailheads kept.
func (p *PipelineService) FilterTrailheadsIfPresent(ctx context.Context, sessionID, workspace string) (int, error) {
	out, err := p.FilterTrailheads(ctx, sessionID, workspace)
	if errors.Is(err, domain.ErrMissingInput) || errors.Is(err, domain.ErrEmptyInput) {
		slog.WarnContext(ctx, "trailhead filtering skipped", "session", sessionID, "reason", err.Error())
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return out.Len(), nil
}

// Assemble loads the workspace's trail and road layers and builds the
// session's final route. Absent layers count as empty.
func (p *PipelineService) Assemble(ctx context.Context, sessionID, workspace string, selectedIDs []string) (*domain.FeatureCollection, error) {
	start := time.Now()
	p.progress(ctx, sessionID, workspace, StageAssemble)

	in := AssemblyInput{SelectedIDs: cleanIDs(selectedIDs)}
	var err error
	if spec, ok := p.layers.ByRole(domain.RoleTrails); ok {
		in.TrailIDField = spec.IDField
		if in.Trails, err = p.loadOptional(ctx, workspace, spec.Name); err != nil {
			metrics.ObserveStage(StageAssemble, start, err)
			return nil, err
		}
	}
	if spec, ok := p.layers.ByRole(domain.RoleRoads); ok {
		in.RoadIDField = spec.IDField
		if in.Roads, err = p.loadOptional(ctx, workspace, spec.Name); err != nil {
			metrics.ObserveStage(StageAssemble, start, err)
			return nil, err
		}
	}

	route, err := p.stages.Assembler.Assemble(ctx, sessionID, in)
	metrics.ObserveStage(StageAssemble, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageAssemble, err)
	}
	return route, nil
}

// Enrich samples elevation along the session's stored route and classifies
// its slope, replacing the stored route.
func (p *PipelineService) Enrich(ctx context.Context, sessionID string) (*domain.FeatureCollection, error) {
	route, err := p.store.LoadCollection(ctx, sessionID, domain.ArtifactFinalRoute)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return nil, fmt.Errorf("%s: %w: final route artifact does not exist", StageSample, domain.ErrMissingInput)
		}
		return nil, fmt.Errorf("%s: %w", StageSample, err)
	}

	start := time.Now()
	p.progress(ctx, sessionID, "", StageSample)
	samples, err := p.stages.Sampler.Sample(ctx, sessionID, route)
	metrics.ObserveStage(StageSample, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageSample, err)
	}

	start = time.Now()
	p.progress(ctx, sessionID, "", StageClassify)
	route, err = p.stages.Classifier.Classify(ctx, sessionID, route, samples)
	metrics.ObserveStage(StageClassify, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageClassify, err)
	}
	return route, nil
}

// FilterTrailheads keeps the workspace trailheads near the session's route.
func (p *PipelineService) FilterTrailheads(ctx context.Context, sessionID, workspace string) (*domain.FeatureCollection, error) {
	spec, ok := p.layers.ByRole(domain.RoleTrailheads)
	if !ok {
		return nil, fmt.Errorf("%s: %w: no trailhead layer configured", StageFilter, domain.ErrMissingInput)
	}

	start := time.Now()
	p.progress(ctx, sessionID, workspace, StageFilter)
	p.logBufferScale(ctx, sessionID)
	out, err := p.stages.Filter.FilterArtifacts(ctx, sessionID, workspace, spec.Name)
	metrics.ObserveStage(StageFilter, start, err)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StageFilter, err)
	}
	return out, nil
}

// logBufferScale reports what the planar buffer amounts to on the ground at
// the route's latitude.
func (p *PipelineService) logBufferScale(ctx context.Context, sessionID string) {
	route, err := p.store.LoadCollection(ctx, sessionID, domain.ArtifactFinalRoute)
	if err != nil {
		return
	}
	env, err := ComputeEnvelope(route)
	if err != nil {
		return
	}
	ns, ew := geospatial.DegreesToMeters((env.North+env.South)/2, p.buffer)
	slog.DebugContext(ctx, "planar buffer ground distance",
		"session", sessionID,
		"buffer_degrees", p.buffer,
		"north_south_m", ns,
		"east_west_m", ew,
	)
}

func (p *PipelineService) loadOptional(ctx context.Context, namespace, name string) (*domain.FeatureCollection, error) {
	fc, err := p.store.LoadCollection(ctx, namespace, name)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		slog.WarnContext(ctx, "layer artifact not found, treating as empty", "namespace", namespace, "layer", name)
		return domain.NewFeatureCollection(), nil
	}
	return fc, err
}

func (p *PipelineService) transition(ctx context.Context, id string, from, to domain.SessionState, reason string) (*domain.ProcessingSession, error) {
	s, err := p.sessions.Transition(ctx, id, from, to, reason)
	if err != nil {
		return nil, err
	}
	metrics.SessionTransitions.WithLabelValues(string(to)).Inc()
	p.publish(ctx, s, "")
	return s, nil
}

func (p *PipelineService) progress(ctx context.Context, sessionID, workspace, stage string) {
	p.publish(ctx, &domain.ProcessingSession{ID: sessionID, Workspace: workspace, State: domain.SessionRunning}, stage)
}

func (p *PipelineService) publish(ctx context.Context, s *domain.ProcessingSession, stage string) {
	if p.events == nil {
		return
	}
	ev := &domain.SessionEvent{
		SessionID: s.ID,
		Workspace: s.Workspace,
		State:     s.State,
		Reason:    s.Reason,
		Stage:     stage,
		At:        time.Now().UTC(),
	}
	if err := p.events.PublishSessionEvent(ctx, ev); err != nil {
		slog.WarnContext(ctx, "publish session event failed", "session", s.ID, "error", err)
	}
}

func cleanIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
