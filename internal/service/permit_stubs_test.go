package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/repository"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

type permitStoreStub struct {
	mu          sync.Mutex
	apps        map[string]*models.PermitApplication
	annotations map[string][]models.PermitAnnotation

	getCalls    int
	applyErr    error
	stageErr    map[models.PermitStage]error
	stageCalls  map[models.PermitStage]int
	createErr   error
	beforeApply func(app *models.PermitApplication)
	lastFilter  models.PermitApplicationFilter
}

func newPermitStoreStub() *permitStoreStub {
	return &permitStoreStub{
		apps:        make(map[string]*models.PermitApplication),
		annotations: make(map[string][]models.PermitAnnotation),
		stageErr:    make(map[models.PermitStage]error),
		stageCalls:  make(map[models.PermitStage]int),
	}
}

func (s *permitStoreStub) seed(id string, stage models.PermitStage) *models.PermitApplication {
	s.mu.Lock()
	defer s.mu.Unlock()
	app := &models.PermitApplication{
		ID:            id,
		UserID:        "applicant-1",
		EventTitle:    "Harvest festival",
		Purpose:       "Community celebration",
		StartDateTime: time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC),
		EndDateTime:   time.Date(2026, 11, 1, 18, 0, 0, 0, time.UTC),
		PermitType:    models.PermitTypePublicGathering,
		LocationTag:   "Town square",
		CurrentStage:  stage,
		Status:        statusForStage(stage),
		CreatedAt:     time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
	}
	s.apps[id] = app
	return app
}

func statusForStage(stage models.PermitStage) models.PermitStatus {
	switch stage {
	case models.StageCompleted:
		return models.PermitStatusApproved
	case models.StageRejected:
		return models.PermitStatusRejected
	}
	return models.PermitStatusPending
}

func (s *permitStoreStub) stage(id string) models.PermitStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apps[id].CurrentStage
}

func (s *permitStoreStub) Create(ctx context.Context, app *models.PermitApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if app.ID == "" {
		app.ID = fmt.Sprintf("app-%d", len(s.apps)+1)
	}
	app.CreatedAt = time.Now().UTC()
	app.UpdatedAt = app.CreatedAt
	copy := *app
	s.apps[app.ID] = &copy
	return nil
}

func (s *permitStoreStub) GetByID(ctx context.Context, id string) (*models.PermitApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	app, ok := s.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *app
	return &copy, nil
}

func (s *permitStoreStub) ListAnnotations(ctx context.Context, applicationID string) ([]models.PermitAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PermitAnnotation(nil), s.annotations[applicationID]...), nil
}

func (s *permitStoreStub) List(ctx context.Context, filter models.PermitApplicationFilter) ([]models.PermitApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	out := make([]models.PermitApplication, 0, len(s.apps))
	for _, app := range s.apps {
		if filter.UserID != "" && app.UserID != filter.UserID {
			continue
		}
		if len(filter.Stages) > 0 && !containsStage(filter.Stages, app.CurrentStage) {
			continue
		}
		out = append(out, *app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *permitStoreStub) ListByStage(ctx context.Context, stage models.PermitStage) ([]models.ApplicationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageCalls[stage]++
	if err := s.stageErr[stage]; err != nil {
		return nil, err
	}
	out := []models.ApplicationSummary{}
	for _, app := range s.apps {
		if app.CurrentStage != stage {
			continue
		}
		out = append(out, models.ApplicationSummary{
			ApplicationID: app.ID,
			UserID:        app.UserID,
			EventTitle:    app.EventTitle,
			PermitType:    app.PermitType,
			CurrentStage:  app.CurrentStage,
			Status:        app.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ApplicationID < out[j].ApplicationID })
	return out, nil
}

func (s *permitStoreStub) ApplyTransition(ctx context.Context, params repository.TransitionParams) (*models.PermitAnnotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[params.ApplicationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if s.beforeApply != nil {
		s.beforeApply(app)
	}
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	if app.CurrentStage != params.FromStage {
		return nil, sql.ErrNoRows
	}

	app.CurrentStage = params.ToStage
	app.Status = params.Status
	app.Complete = params.Complete
	app.UpdatedAt = params.At
	app.SetAnnotation(params.Field, params.Body)
	if params.Permit != nil {
		number, path, issued := params.Permit.PermitNumber, params.Permit.Path, params.Permit.IssuedAt
		app.PermitNumber, app.PermitPath, app.PermitIssuedAt = &number, &path, &issued
	}

	version := 1
	for _, a := range s.annotations[app.ID] {
		if a.Field == params.Field {
			version++
		}
	}
	annotation := models.PermitAnnotation{
		ID:            fmt.Sprintf("%s-ann-%d", app.ID, len(s.annotations[app.ID])+1),
		ApplicationID: app.ID,
		Field:         params.Field,
		Version:       version,
		Stage:         params.FromStage,
		Action:        params.Action,
		RoleName:      params.RoleName,
		ActorID:       params.ActorID,
		Body:          params.Body,
		CreatedAt:     params.At,
	}
	s.annotations[app.ID] = append(s.annotations[app.ID], annotation)
	return &annotation, nil
}

func containsStage(stages []models.PermitStage, stage models.PermitStage) bool {
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

type generatorStub struct {
	mu        sync.Mutex
	err       error
	generated []*models.PermitArtifact
	discarded []*models.PermitArtifact
}

func (g *generatorStub) Generate(ctx context.Context, app *models.PermitApplication, issuedAt time.Time) (*models.PermitArtifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	artifact := &models.PermitArtifact{
		PermitNumber: PermitNumber(app.ID, issuedAt),
		Path:         "permits/" + app.ID + ".pdf",
		IssuedAt:     issuedAt,
	}
	g.generated = append(g.generated, artifact)
	return artifact, nil
}

func (g *generatorStub) Discard(artifact *models.PermitArtifact) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.discarded = append(g.discarded, artifact)
	return nil
}

type auditRecorder struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *auditRecorder) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.logs))
	for i, l := range a.logs {
		out[i] = l.Action
	}
	return out
}

type publisherStub struct {
	events []models.TransitionEvent
	err    error
}

func (p *publisherStub) PublishTransition(ctx context.Context, event models.TransitionEvent) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("%d-0", len(p.events)), nil
}

type notifierStub struct {
	events []models.TransitionEvent
}

func (n *notifierStub) NotifyTransition(event models.TransitionEvent) error {
	n.events = append(n.events, event)
	return nil
}

// memoryCache is a CacheRepository kept in a map of JSON payloads.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deletes []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes = append(c.deletes, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

var errStoreDown = errors.New("connection refused")

func actorFor(role models.RoleName) models.Actor {
	return models.Actor{UserID: "user-" + strings.ToLower(string(role)), RoleName: role}
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
