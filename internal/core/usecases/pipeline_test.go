package usecases_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/core/usecases"
)

type pipelineFixture struct {
	svc        *usecases.PipelineService
	store      *memStore
	sessions   *memSessions
	events     *recordingEvents
	provider   *mockProvider
	dispatcher *usecases.LocalDispatcher
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	fx := &pipelineFixture{
		store:    newMemStore(),
		sessions: newMemSessions(),
		events:   &recordingEvents{},
		provider: &mockProvider{},
	}
	decoder := &mockDecoder{decodeFn: func([]byte) (*domain.ElevationRaster, error) {
		return flatRaster(100, 10), nil
	}}
	stages := usecases.Stages{
		Source:     usecases.NewFeatureSource(&mockQuerier{}, fx.store, nil, fx.events, 1, 0),
		Assembler:  usecases.NewRouteAssembler(fx.store, fx.events),
		Sampler:    usecases.NewElevationSampler(fx.provider, decoder, fx.store),
		Classifier: usecases.NewSlopeClassifier(fx.store, fx.events, 30),
		Filter:     usecases.NewTrailheadFilter(fx.store, fx.events, 0.001),
	}
	fx.svc = usecases.NewPipelineService(testLayers, fx.sessions, fx.store, stages, fx.events, time.Minute)
	fx.dispatcher = usecases.NewLocalDispatcher(fx.svc, time.Minute)
	fx.svc.SetDispatcher(fx.dispatcher)

	mustSave(t, fx.store, "ws1", "trails", sampleTrails())
	mustSave(t, fx.store, "ws1", "roads", sampleRoads())
	mustSave(t, fx.store, "ws1", "trailheads", domain.NewFeatureCollection(
		pointFeature("Ridge TH", orb.Point{0, 0.0005}),
		pointFeature("Elsewhere", orb.Point{2.5, 0.9}),
	))
	return fx
}

func mustSave(t *testing.T, store *memStore, ns, name string, fc *domain.FeatureCollection) {
	t.Helper()
	if err := store.SaveCollection(context.Background(), ns, name, fc); err != nil {
		t.Fatalf("save %s/%s: %v", ns, name, err)
	}
}

func (fx *pipelineFixture) run(t *testing.T, sessionID string, ids ...string) *domain.ProcessingSession {
	t.Helper()
	if _, err := fx.svc.AssembleAndEnrich(context.Background(), sessionID, "ws1", ids); err != nil {
		t.Fatalf("AssembleAndEnrich: %v", err)
	}
	fx.dispatcher.Wait()
	s, err := fx.svc.GetSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	return s
}

func TestPipeline_AssembleAndEnrich(t *testing.T) {
	fx := newPipelineFixture(t)

	s := fx.run(t, "s1", "1", "3", "R7")
	if s.State != domain.SessionDone {
		t.Fatalf("expected done, got %s (%s)", s.State, s.Reason)
	}

	adv, err := fx.svc.Adventure(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Adventure: %v", err)
	}
	if adv.Trails.Len() != 3 {
		t.Errorf("expected 3 route features, got %d", adv.Trails.Len())
	}
	for i, f := range adv.Trails.Features {
		if _, ok := f.Properties[domain.AttrSlope].(float64); !ok {
			t.Errorf("feature %d has no slope", i)
		}
		if _, ok := f.Properties[domain.AttrDifficulty].(string); !ok {
			t.Errorf("feature %d has no difficulty", i)
		}
	}
	if adv.Trailheads.Len() != 1 || adv.Trailheads.Features[0].Properties["name"] != "Ridge TH" {
		t.Errorf("expected only Ridge TH, got %+v", adv.Trailheads.Features)
	}

	states := fx.events.states("s1")
	want := []domain.SessionState{domain.SessionPending, domain.SessionRunning, domain.SessionDone}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestPipeline_FailureRecordsReason(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.provider.fetchFn = func(ctx context.Context, env domain.Envelope) ([]byte, error) {
		return nil, errors.New("status 401: invalid API key")
	}

	s := fx.run(t, "s1", "1")
	if s.State != domain.SessionFailed {
		t.Fatalf("expected failed, got %s", s.State)
	}
	if !strings.Contains(s.Reason, "elevation raster unavailable") || !strings.Contains(s.Reason, "invalid API key") {
		t.Errorf("unexpected reason %q", s.Reason)
	}
}

func TestPipeline_PanicBecomesFailure(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.provider.fetchFn = func(ctx context.Context, env domain.Envelope) ([]byte, error) {
		panic("decoder exploded")
	}

	s := fx.run(t, "s1", "1")
	if s.State != domain.SessionFailed || !strings.Contains(s.Reason, "decoder exploded") {
		t.Fatalf("expected failed with panic reason, got %s %q", s.State, s.Reason)
	}
}

func TestPipeline_MissingTrailheadsStillDone(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.store.mu.Lock()
	delete(fx.store.collections, "ws1/trailheads")
	fx.store.mu.Unlock()

	s := fx.run(t, "s1", "2")
	if s.State != domain.SessionDone {
		t.Fatalf("expected done, got %s (%s)", s.State, s.Reason)
	}
	adv, err := fx.svc.Adventure(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Adventure: %v", err)
	}
	if !adv.Trailheads.IsEmpty() {
		t.Errorf("expected no trailheads, got %d", adv.Trailheads.Len())
	}
}

func TestPipeline_RunIsExclusive(t *testing.T) {
	fx := newPipelineFixture(t)
	now := time.Now()
	if err := fx.sessions.Create(context.Background(), &domain.ProcessingSession{
		ID: "s1", Workspace: "ws1", SelectedIDs: []string{"1"}, State: domain.SessionRunning, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := fx.svc.RunEnrichment(context.Background(), ports.EnrichmentJob{SessionID: "s1", Workspace: "ws1", SelectedIDs: []string{"1"}})
	if !errors.Is(err, domain.ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
	s, _ := fx.sessions.Get(context.Background(), "s1")
	if s.State != domain.SessionRunning {
		t.Errorf("a losing run must not touch the session, got %s", s.State)
	}
}

func TestPipeline_RetryFailedSession(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.provider.fetchFn = func(ctx context.Context, env domain.Envelope) ([]byte, error) {
		return nil, errors.New("timeout")
	}
	if s := fx.run(t, "s1", "1"); s.State != domain.SessionFailed {
		t.Fatalf("expected failed, got %s", s.State)
	}

	fx.provider.fetchFn = nil
	if _, err := fx.svc.RetrySession(context.Background(), "s1"); err != nil {
		t.Fatalf("RetrySession: %v", err)
	}
	fx.dispatcher.Wait()

	s, _ := fx.svc.GetSession(context.Background(), "s1")
	if s.State != domain.SessionDone || s.Reason != "" {
		t.Errorf("expected done without reason, got %s %q", s.State, s.Reason)
	}
}

func TestPipeline_AssembleAndEnrich_Validation(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.AssembleAndEnrich(ctx, "s1", "ws1", []string{" ", ""}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty selection, got %v", err)
	}
	if _, err := fx.svc.AssembleAndEnrich(ctx, "s1", "../etc", []string{"1"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for bad workspace, got %v", err)
	}
	if _, err := fx.svc.GetSession(ctx, "unknown"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPipeline_GeneratedSessionID(t *testing.T) {
	fx := newPipelineFixture(t)
	s, err := fx.svc.AssembleAndEnrich(context.Background(), "", "ws1", []string{"1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fx.dispatcher.Wait()
	if len(s.ID) != 36 {
		t.Errorf("expected a uuid, got %q", s.ID)
	}
}

func TestPipeline_SummaryAndKML(t *testing.T) {
	fx := newPipelineFixture(t)
	if s := fx.run(t, "s1", "1", "R7"); s.State != domain.SessionDone {
		t.Fatalf("expected done, got %s (%s)", s.State, s.Reason)
	}

	summary, err := fx.svc.Summary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(summary))
	}
	if summary[0].Name != "Ridge" || summary[0].ID != "1" {
		t.Errorf("unexpected first segment %+v", summary[0])
	}
	if summary[1].Name != "Forest Rd 7" || summary[1].ID != "R7" {
		t.Errorf("unexpected second segment %+v", summary[1])
	}
	if summary[0].Polyline == "" || summary[0].LengthMi <= 0 {
		t.Errorf("segment is missing polyline or length: %+v", summary[0])
	}

	var buf bytes.Buffer
	if err := fx.svc.RouteKML(context.Background(), "s1", &buf); err != nil {
		t.Fatalf("RouteKML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<kml", "<LineString>", "Ridge", "Forest Rd 7", "Ridge TH"} {
		if !strings.Contains(out, want) {
			t.Errorf("KML is missing %q", want)
		}
	}
}

func TestPipeline_FetchAll(t *testing.T) {
	fx := newPipelineFixture(t)
	workspace, _, err := fx.svc.FetchAll(context.Background(), "", testBBox)
	if !errors.Is(err, domain.ErrNoDataFound) {
		t.Errorf("expected ErrNoDataFound from empty layers, got %v", err)
	}
	if workspace == "" {
		t.Error("expected a generated workspace id")
	}

	names, err := fx.svc.SavedLayers(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("SavedLayers: %v", err)
	}
	if strings.Join(names, ",") != "roads,trailheads,trails" {
		t.Errorf("unexpected saved layers %v", names)
	}
}

func TestLocalDispatcher_Shutdown(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fx.svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, err := fx.svc.AssembleAndEnrich(context.Background(), "s1", "ws1", []string{"1"})
	if !errors.Is(err, usecases.ErrDispatcherClosed) {
		t.Fatalf("expected ErrDispatcherClosed, got %v", err)
	}
	s, _ := fx.svc.GetSession(context.Background(), "s1")
	if s.State != domain.SessionFailed {
		t.Errorf("undispatched session should be failed, got %s", s.State)
	}
}

func TestPipeline_ReportsRequireDoneSession(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.provider.fetchFn = func(ctx context.Context, env domain.Envelope) ([]byte, error) {
		return nil, errors.New("status 401: invalid API key")
	}
	if s := fx.run(t, "failed", "1"); s.State != domain.SessionFailed {
		t.Fatalf("expected failed, got %s", s.State)
	}

	ctx := context.Background()
	_, err := fx.svc.Adventure(ctx, "failed")
	if !errors.Is(err, domain.ErrSessionConflict) || !strings.Contains(err.Error(), "invalid API key") {
		t.Errorf("Adventure on failed session: expected conflict with reason, got %v", err)
	}
	if _, err := fx.svc.Summary(ctx, "failed"); !errors.Is(err, domain.ErrSessionConflict) {
		t.Errorf("Summary on failed session: expected conflict, got %v", err)
	}
	var buf bytes.Buffer
	if err := fx.svc.RouteKML(ctx, "failed", &buf); !errors.Is(err, domain.ErrSessionConflict) {
		t.Errorf("RouteKML on failed session: expected conflict, got %v", err)
	}

	now := time.Now()
	if err := fx.sessions.Create(ctx, &domain.ProcessingSession{
		ID: "running", Workspace: "ws1", SelectedIDs: []string{"1"}, State: domain.SessionRunning, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Artifacts left behind by an earlier run must not be served mid-run.
	mustSave(t, fx.store, "running", domain.ArtifactFinalRoute, sampleTrails())
	if _, err := fx.svc.Adventure(ctx, "running"); !errors.Is(err, domain.ErrSessionConflict) {
		t.Errorf("Adventure on running session: expected conflict, got %v", err)
	}
	if _, err := fx.svc.Summary(ctx, "running"); !errors.Is(err, domain.ErrSessionConflict) {
		t.Errorf("Summary on running session: expected conflict, got %v", err)
	}
	if _, err := fx.svc.Adventure(ctx, "unknown"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPipeline_RetryDropsStaleTrailheads(t *testing.T) {
	fx := newPipelineFixture(t)
	if s := fx.run(t, "s1", "1", "R7"); s.State != domain.SessionDone {
		t.Fatalf("expected done, got %s (%s)", s.State, s.Reason)
	}
	adv, err := fx.svc.Adventure(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Adventure: %v", err)
	}
	if adv.Trailheads.Len() != 1 {
		t.Fatalf("expected Ridge TH on the first run, got %d trailheads", adv.Trailheads.Len())
	}

	// The trailhead layer changes; nothing is near the route any more.
	mustSave(t, fx.store, "ws1", "trailheads", domain.NewFeatureCollection(
		pointFeature("Elsewhere", orb.Point{2.5, 0.9}),
	))
	if _, err := fx.svc.RetrySession(context.Background(), "s1"); err != nil {
		t.Fatalf("RetrySession: %v", err)
	}
	fx.dispatcher.Wait()

	adv, err = fx.svc.Adventure(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Adventure after retry: %v", err)
	}
	if !adv.Trailheads.IsEmpty() {
		t.Errorf("expected no trailheads after retry, got %+v", adv.Trailheads.Features)
	}
}

func TestPipeline_RetryWithoutTrailheadLayer(t *testing.T) {
	fx := newPipelineFixture(t)
	if s := fx.run(t, "s1", "1", "R7"); s.State != domain.SessionDone {
		t.Fatalf("expected done, got %s (%s)", s.State, s.Reason)
	}
	fx.store.mu.Lock()
	delete(fx.store.collections, "ws1/trailheads")
	fx.store.mu.Unlock()

	if _, err := fx.svc.RetrySession(context.Background(), "s1"); err != nil {
		t.Fatalf("RetrySession: %v", err)
	}
	fx.dispatcher.Wait()

	if fx.store.has("s1", domain.ArtifactFilteredTrailheads) {
		t.Error("trailheads from the first run survived the retry")
	}
}

func TestPipeline_RecoverInterrupted(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	now := time.Now()
	for id, state := range map[string]domain.SessionState{
		"queued":   domain.SessionPending,
		"working":  domain.SessionRunning,
		"finished": domain.SessionDone,
	} {
		if err := fx.sessions.Create(ctx, &domain.ProcessingSession{
			ID: id, Workspace: "ws1", SelectedIDs: []string{"1"}, State: state, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	n, err := fx.svc.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 recovered sessions, got %d", n)
	}
	for _, id := range []string{"queued", "working"} {
		s, _ := fx.sessions.Get(ctx, id)
		if s.State != domain.SessionFailed || s.Reason != usecases.InterruptedReason {
			t.Errorf("%s: expected failed/%s, got %s/%q", id, usecases.InterruptedReason, s.State, s.Reason)
		}
	}
	if s, _ := fx.sessions.Get(ctx, "finished"); s.State != domain.SessionDone {
		t.Errorf("done session was touched: %s", s.State)
	}

	// An interrupted session can be retried like any other failure.
	if _, err := fx.svc.RetrySession(ctx, "working"); err != nil {
		t.Fatalf("RetrySession: %v", err)
	}
	fx.dispatcher.Wait()
	if s, _ := fx.sessions.Get(ctx, "working"); s.State != domain.SessionDone {
		t.Errorf("expected retried session done, got %s (%s)", s.State, s.Reason)
	}

	if n, err := fx.svc.RecoverInterrupted(ctx); err != nil || n != 0 {
		t.Errorf("second recovery: expected 0, got %d (%v)", n, err)
	}
}

func TestPipeline_ListSessionsPages(t *testing.T) {
	fx := newPipelineFixture(t)
	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := fx.sessions.Create(ctx, &domain.ProcessingSession{
			ID: id, Workspace: "ws1", State: domain.SessionDone, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	page, total, err := fx.svc.ListSessions(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(page) != 1 || page[0].ID != "e" {
		t.Errorf("expected last page [e], got %+v", page)
	}

	page, total, err = fx.svc.ListSessions(ctx, 0, -3)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if total != 5 || len(page) != 5 {
		t.Errorf("default limit: expected 5 of 5, got %d of %d", len(page), total)
	}
}
