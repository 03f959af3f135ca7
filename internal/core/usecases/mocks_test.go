package usecases_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
)

// --- Mock ArtifactStore ---

type memStore struct {
	mu          sync.Mutex
	collections map[string][]byte
	rasters     map[string][]byte
	saves       int
}

func newMemStore() *memStore {
	return &memStore{collections: map[string][]byte{}, rasters: map[string][]byte{}}
}

func (s *memStore) SaveCollection(ctx context.Context, ns, name string, fc *domain.FeatureCollection) error {
	data, err := fc.MarshalGeoJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[ns+"/"+name] = data
	s.saves++
	return nil
}

func (s *memStore) LoadCollection(ctx context.Context, ns, name string) (*domain.FeatureCollection, error) {
	s.mu.Lock()
	data, ok := s.collections[ns+"/"+name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, ns, name)
	}
	return domain.DecodeFeatureCollection(data)
}

func (s *memStore) SaveRaster(ctx context.Context, ns string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rasters[ns] = data
	return nil
}

func (s *memStore) LoadRaster(ctx context.Context, ns string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.rasters[ns]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	return data, nil
}

func (s *memStore) List(ctx context.Context, ns string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	prefix := ns + "/"
	for k := range s.collections {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			names = append(names, k[len(prefix):])
		}
	}
	return names, nil
}

func (s *memStore) Delete(ctx context.Context, ns, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, ns+"/"+name)
	return nil
}

func (s *memStore) has(ns, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[ns+"/"+name]
	return ok
}

// --- Mock SessionRepository ---

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.ProcessingSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]domain.ProcessingSession{}}
}

func (m *memSessions) Create(ctx context.Context, s *domain.ProcessingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return domain.ErrSessionConflict
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessions) Get(ctx context.Context, id string) (*domain.ProcessingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessions) Transition(ctx context.Context, id string, from, to domain.SessionState, reason string) (*domain.ProcessingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.State != from {
		return nil, domain.ErrSessionConflict
	}
	if err := s.Transition(to, reason, time.Now()); err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return &s, nil
}

func (m *memSessions) List(ctx context.Context, limit, offset int) ([]domain.ProcessingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProcessingSession
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSessions) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// --- Mock remote services ---

type mockQuerier struct {
	queryFn func(ctx context.Context, layer domain.LayerSpec, bbox domain.BoundingBox) (*domain.FeatureCollection, error)
	mu      sync.Mutex
	calls   int
}

func (m *mockQuerier) Query(ctx context.Context, layer domain.LayerSpec, bbox domain.BoundingBox) (*domain.FeatureCollection, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.queryFn != nil {
		return m.queryFn(ctx, layer, bbox)
	}
	return domain.NewFeatureCollection(), nil
}

type mockProvider struct {
	fetchFn func(ctx context.Context, env domain.Envelope) ([]byte, error)
}

func (m *mockProvider) FetchRaster(ctx context.Context, env domain.Envelope) ([]byte, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, env)
	}
	return []byte("tif"), nil
}

type mockDecoder struct {
	decodeFn func(data []byte) (*domain.ElevationRaster, error)
}

func (m *mockDecoder) Decode(data []byte) (*domain.ElevationRaster, error) {
	if m.decodeFn != nil {
		return m.decodeFn(data)
	}
	return nil, fmt.Errorf("no raster")
}

type mockWeather struct {
	currentFn func(ctx context.Context, lat, lon float64) (*domain.Weather, error)
	calls     int
}

func (m *mockWeather) Current(ctx context.Context, lat, lon float64) (*domain.Weather, error) {
	m.calls++
	return m.currentFn(ctx, lat, lon)
}

// --- Mock CacheService ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (c *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, fmt.Errorf("cache miss")
	}
	return v, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- Recording EventPublisher ---

type recordingEvents struct {
	mu        sync.Mutex
	sessions  []domain.SessionEvent
	artifacts []domain.ArtifactEvent
}

func (r *recordingEvents) PublishSessionEvent(ctx context.Context, ev *domain.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, *ev)
	return nil
}

func (r *recordingEvents) PublishArtifactEvent(ctx context.Context, ev *domain.ArtifactEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, *ev)
	return nil
}

func (r *recordingEvents) states(sessionID string) []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SessionState
	for _, ev := range r.sessions {
		if ev.SessionID == sessionID && ev.Stage == "" {
			out = append(out, ev.State)
		}
	}
	return out
}

var _ ports.EventPublisher = (*recordingEvents)(nil)

// --- Fixtures ---

func lineFeature(props map[string]interface{}, pts ...orb.Point) *geojson.Feature {
	f := geojson.NewFeature(orb.LineString(pts))
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

func pointFeature(name string, p orb.Point) *geojson.Feature {
	f := geojson.NewFeature(p)
	f.Properties["name"] = name
	return f
}

// flatRaster covers lon [-1, 3) x lat [-1, 1) with 0.5 degree cells; every
// cell holds base + col*step.
func flatRaster(base, step float64) *domain.ElevationRaster {
	r := &domain.ElevationRaster{
		Width:     8,
		Height:    4,
		Transform: domain.Affine{A: 0.5, C: -1, E: -0.5, F: 1},
		EPSG:      4326,
	}
	r.Data = make([]float64, r.Width*r.Height)
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			r.Data[row*r.Width+col] = base + float64(col)*step
		}
	}
	return r
}
