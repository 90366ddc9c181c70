package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/permit-api/internal/models"
	"github.com/noah-isme/permit-api/internal/repository"
	"github.com/noah-isme/permit-api/internal/workflow"
	appErrors "github.com/noah-isme/permit-api/pkg/errors"
)

const tracerName = "github.com/noah-isme/permit-api/internal/service"

type transitionStore interface {
	GetByID(ctx context.Context, id string) (*models.PermitApplication, error)
	ListAnnotations(ctx context.Context, applicationID string) ([]models.PermitAnnotation, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams) (*models.PermitAnnotation, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// PermitGenerator produces and discards permit artifacts for approved applications.
type PermitGenerator interface {
	Generate(ctx context.Context, app *models.PermitApplication, issuedAt time.Time) (*models.PermitArtifact, error)
	Discard(artifact *models.PermitArtifact) error
}

// TransitionPublisher receives committed transitions.
type TransitionPublisher interface {
	PublishTransition(ctx context.Context, event models.TransitionEvent) (string, error)
}

// TransitionNotifier schedules out-of-band notifications for committed transitions.
type TransitionNotifier interface {
	NotifyTransition(event models.TransitionEvent) error
}

// TransitionService validates and applies workflow transitions.
type TransitionService struct {
	store     transitionStore
	registry  *workflow.Registry
	generator PermitGenerator
	audit     auditLogger
	cache     *CacheService
	events    TransitionPublisher
	notifier  TransitionNotifier
	metrics   *MetricsService
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// TransitionServiceOption configures the service.
type TransitionServiceOption func(*TransitionService)

// WithPermitGenerator sets the artifact generator used on approval.
func WithPermitGenerator(gen PermitGenerator) TransitionServiceOption {
	return func(s *TransitionService) { s.generator = gen }
}

// WithTransitionAudit records an audit row per committed transition.
func WithTransitionAudit(audit auditLogger) TransitionServiceOption {
	return func(s *TransitionService) { s.audit = audit }
}

// WithTransitionCache invalidates inbox pages after commits.
func WithTransitionCache(cache *CacheService) TransitionServiceOption {
	return func(s *TransitionService) { s.cache = cache }
}

// WithTransitionPublisher appends committed transitions to an event stream.
func WithTransitionPublisher(pub TransitionPublisher) TransitionServiceOption {
	return func(s *TransitionService) { s.events = pub }
}

// WithTransitionNotifier queues webhook notifications.
func WithTransitionNotifier(n TransitionNotifier) TransitionServiceOption {
	return func(s *TransitionService) { s.notifier = n }
}

// WithTransitionMetrics counts transition outcomes.
func WithTransitionMetrics(m *MetricsService) TransitionServiceOption {
	return func(s *TransitionService) { s.metrics = m }
}

// WithTransitionClock overrides the time source.
func WithTransitionClock(now func() time.Time) TransitionServiceOption {
	return func(s *TransitionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTransitionService constructs the engine.
func NewTransitionService(store transitionStore, registry *workflow.Registry, logger *zap.Logger, opts ...TransitionServiceOption) *TransitionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = workflow.DefaultRegistry()
	}
	svc := &TransitionService{
		store:    store,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Apply performs action on the application as actor. The stage change, the annotation and
// the permit artifact (approval only) are committed together or not at all.
func (s *TransitionService) Apply(ctx context.Context, actor models.Actor, applicationID string, action workflow.Action, text string) (app *models.PermitApplication, err error) {
	ctx, span := s.tracer.Start(ctx, "permit.transition", trace.WithAttributes(
		attribute.String("permit.application_id", applicationID),
		attribute.String("permit.action", string(action)),
		attribute.String("permit.role", string(actor.RoleName)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	outcome := OutcomeFailed
	defer func() { s.metrics.RecordTransition(string(action), outcome) }()

	if err := workflow.ValidateText(workflow.InputFor(action), text); err != nil {
		outcome = OutcomeRejected
		return nil, err
	}
	role, err := s.registry.ForActor(actor)
	if err != nil {
		outcome = OutcomeRejected
		return nil, err
	}

	current, err := s.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	tr, err := workflow.Resolve(role, current.CurrentStage, action)
	if err != nil {
		outcome = OutcomeRejected
		return nil, err
	}
	now := s.now()
	var artifact *models.PermitArtifact
	if tr.GeneratesPermit {
		if s.generator == nil {
			return nil, appErrors.Clone(appErrors.ErrTransport, "permit generator unavailable")
		}
		preview := *current
		preview.SetAnnotation(tr.Field, text)
		artifact, err = s.generator.Generate(ctx, &preview, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to generate permit")
		}
	}

	params := repository.TransitionParams{
		ApplicationID: current.ID,
		FromStage:     tr.From,
		ToStage:       tr.To,
		Status:        workflow.StatusFor(tr.To),
		Complete:      workflow.IsTerminal(tr.To),
		Action:        string(tr.Action),
		Field:         tr.Field,
		Body:          text,
		RoleName:      role.Name,
		ActorID:       actor.UserID,
		At:            now,
		Permit:        artifact,
	}
	annotation, err := s.store.ApplyTransition(ctx, params)
	if err != nil {
		s.discard(artifact)
		if errors.Is(err, sql.ErrNoRows) {
			outcome = OutcomeRejected
			return nil, s.raceLost(ctx, current.ID, tr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to persist transition")
	}
	outcome = OutcomeApplied

	updated := *current
	updated.CurrentStage = tr.To
	updated.Status = params.Status
	updated.Complete = params.Complete
	updated.UpdatedAt = now
	updated.SetAnnotation(tr.Field, text)
	if artifact != nil {
		updated.PermitNumber = &artifact.PermitNumber
		updated.PermitPath = &artifact.Path
		issued := artifact.IssuedAt
		updated.PermitIssuedAt = &issued
	}
	updated.Annotations = append(append([]models.PermitAnnotation(nil), current.Annotations...), *annotation)

	s.afterCommit(ctx, &updated, tr, actor, role.Name, now)
	return &updated, nil
}

func (s *TransitionService) load(ctx context.Context, id string) (*models.PermitApplication, error) {
	app, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "permit application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to load permit application")
	}
	annotations, err := s.store.ListAnnotations(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "failed to load annotations")
	}
	app.Annotations = annotations
	return app, nil
}

// raceLost reports the stage another actor moved the application to.
func (s *TransitionService) raceLost(ctx context.Context, applicationID string, tr workflow.Transition) error {
	actual := models.PermitStage("UNKNOWN")
	if app, err := s.store.GetByID(ctx, applicationID); err == nil && app != nil {
		actual = app.CurrentStage
	}
	return workflow.StageMismatch(tr, actual)
}

func (s *TransitionService) discard(artifact *models.PermitArtifact) {
	if artifact == nil || s.generator == nil {
		return
	}
	if err := s.generator.Discard(artifact); err != nil {
		s.logger.Warn("failed to discard permit artifact", zap.String("path", artifact.Path), zap.Error(err))
	}
}

func (s *TransitionService) afterCommit(ctx context.Context, app *models.PermitApplication, tr workflow.Transition, actor models.Actor, roleName models.RoleName, at time.Time) {
	event := models.TransitionEvent{
		ApplicationID: app.ID,
		Action:        string(tr.Action),
		FromStage:     tr.From,
		ToStage:       tr.To,
		Status:        app.Status,
		ActorID:       actor.UserID,
		RoleName:      roleName,
		OccurredAt:    at,
	}

	if s.audit != nil {
		payload, _ := json.Marshal(event)
		userID := actor.UserID
		if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &userID,
			Action:     models.AuditActionPermitTransition,
			Resource:   "permit_application",
			ResourceID: &app.ID,
			OldValues:  []byte(`{"stage":"` + string(tr.From) + `"}`),
			NewValues:  payload,
			IPAddress:  "system",
			UserAgent:  "transition-service",
		}); err != nil {
			s.logger.Warn("failed to record transition audit", zap.String("application_id", app.ID), zap.Error(err))
		}
	}

	if err := s.cache.Invalidate(ctx, inboxStagePattern); err != nil {
		s.logger.Warn("failed to invalidate inbox cache", zap.Error(err))
	}

	if s.events != nil {
		if _, err := s.events.PublishTransition(ctx, event); err != nil {
			s.logger.Warn("failed to publish transition event", zap.String("application_id", app.ID), zap.Error(err))
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyTransition(event); err != nil {
			s.logger.Warn("failed to queue transition notification", zap.String("application_id", app.ID), zap.Error(err))
		}
	}

	s.logger.Info("permit transition applied",
		zap.String("application_id", app.ID),
		zap.String("action", string(tr.Action)),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("actor_id", actor.UserID),
	)
}
