package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/permit-api/internal/dto"
	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/workflow"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

type inboxStore interface {
	ListByStage(ctx context.Context, stage models.PermitStage) ([]models.ApplicationSummary, error)
}

// InboxServiceConfig tunes the fan-out.
type InboxServiceConfig struct {
	MaxParallel int
	CacheTTL    time.Duration
}

// InboxService lists the applications waiting on a role.
type InboxService struct {
	store    inboxStore
	registry *workflow.Registry
	cache    *CacheService
	metrics  *MetricsService
	tracer   trace.Tracer
	logger   *zap.Logger
	cfg      InboxServiceConfig
}

// NewInboxService constructs the service.
func NewInboxService(store inboxStore, registry *workflow.Registry, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg InboxServiceConfig) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	return &InboxService{
		store:    store,
		registry: registry,
		cache:    cache,
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
		cfg:      cfg,
	}
}

// GetInbox fetches every stage mapped to the actor's role in parallel and merges the rows.
// A failed stage is reported in Failures; the call fails only when every stage failed.
func (s *InboxService) GetInbox(ctx context.Context, actor models.Actor) (*dto.InboxResult, error) {
	role, err := s.registry.ForActor(actor)
	if err != nil {
		return nil, err
	}
	stages, err := s.registry.StagesFor(actor)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "permit.inbox", trace.WithAttributes(
		attribute.String("permit.role", string(role.Name)),
		attribute.Int("permit.stages", len(stages)),
	))
	defer span.End()

	rows := make([][]models.ApplicationSummary, len(stages))
	errs := make([]error, len(stages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxParallel)
	for i, stage := range stages {
		i, stage := i, stage
		g.Go(func() error {
			rows[i], errs[i] = s.fetchStage(gctx, stage)
			return nil
		})
	}
	_ = g.Wait()

	result := &dto.InboxResult{Role: role.Name, Stages: stages, Items: []models.ApplicationSummary{}}
	seen := make(map[string]struct{})
	for i, stage := range stages {
		if errs[i] != nil {
			appErr := appErrors.FromError(errs[i])
			result.Failures = append(result.Failures, dto.InboxFailure{Stage: stage, Code: appErr.Code, Message: appErr.Message})
			s.metrics.RecordInboxFailure(stage)
			s.logger.Warn("inbox stage fetch failed", zap.String("stage", string(stage)), zap.Error(errs[i]))
			continue
		}
		for _, row := range rows[i] {
			if _, dup := seen[row.ApplicationID]; dup {
				continue
			}
			seen[row.ApplicationID] = struct{}{}
			result.Items = append(result.Items, row)
		}
	}

	if len(result.Failures) == len(stages) {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrTransport, "inbox unavailable"),
			map[string]interface{}{"failures": result.Failures},
		)
	}
	return result, nil
}

// GetInboxByStage lists a single stage the actor may read.
func (s *InboxService) GetInboxByStage(ctx context.Context, actor models.Actor, rawStage string) ([]models.ApplicationSummary, error) {
	stage, ok := workflow.ParseStage(rawStage)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown stage "+rawStage)
	}
	role, err := s.registry.ForActor(actor)
	if err != nil {
		return nil, err
	}
	if role.Name != models.RoleAdmin && !role.CanRead(stage) {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrRoleNotAuthorized, "stage not in role inbox"),
			map[string]interface{}{"stage": stage, "roleName": role.Name},
		)
	}
	rows, err := s.fetchStage(ctx, stage)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *InboxService) fetchStage(ctx context.Context, stage models.PermitStage) ([]models.ApplicationSummary, error) {
	key := inboxStageKey(stage)
	var cached []models.ApplicationSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached, nil
	}

	gen := s.cache.Generation()
	start := time.Now()
	rows, err := s.store.ListByStage(ctx, stage)
	s.metrics.ObserveDBQuery("inbox_stage", time.Since(start))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to load stage "+string(stage))
	}
	if rows == nil {
		rows = []models.ApplicationSummary{}
	}
	_, _ = s.cache.SetIfCurrent(ctx, key, rows, s.cfg.CacheTTL, gen)
	return rows, nil
}
