package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/permit-api/internal/models"
)

const permitColumns = `id, user_id, event_title, purpose, start_date_time, end_date_time, permit_type, location_tag,
       document_path, document_file_name, document_mime_type, current_stage, status, complete,
       dc_remarks, sp_remarks, sdpo_remarks, oc_report, permit_number, permit_path, permit_issued_at,
       created_at, updated_at`

const summaryColumns = `id, user_id, event_title, permit_type, location_tag, start_date_time, end_date_time,
       document_file_name, current_stage, status, complete, updated_at`

var annotationColumns = map[models.AnnotationField]string{
	models.FieldDCRemarks:   "dc_remarks",
	models.FieldSPRemarks:   "sp_remarks",
	models.FieldSDPORemarks: "sdpo_remarks",
	models.FieldOCReport:    "oc_report",
}

// PermitRepository persists permit applications and their annotation history.
type PermitRepository struct {
	db *sqlx.DB
}

// NewPermitRepository constructs the repository.
func NewPermitRepository(db *sqlx.DB) *PermitRepository {
	return &PermitRepository{db: db}
}

// Create inserts a new application row.
func (r *PermitRepository) Create(ctx context.Context, app *models.PermitApplication) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = app.CreatedAt
	const query = `INSERT INTO permit_applications
	(id, user_id, event_title, purpose, start_date_time, end_date_time, permit_type, location_tag,
	 document_path, document_file_name, document_mime_type, current_stage, status, complete, created_at, updated_at)
	VALUES (:id, :user_id, :event_title, :purpose, :start_date_time, :end_date_time, :permit_type, :location_tag,
	 :document_path, :document_file_name, :document_mime_type, :current_stage, :status, :complete, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("create permit application: %w", err)
	}
	return nil
}

// GetByID fetches an application by identifier.
func (r *PermitRepository) GetByID(ctx context.Context, id string) (*models.PermitApplication, error) {
	query := `SELECT ` + permitColumns + ` FROM permit_applications WHERE id = $1`
	var app models.PermitApplication
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get permit application: %w", err)
	}
	return &app, nil
}

// ListAnnotations returns the remark history of an application, oldest first.
func (r *PermitRepository) ListAnnotations(ctx context.Context, applicationID string) ([]models.PermitAnnotation, error) {
	const query = `SELECT id, application_id, field, version, stage, action, role_name, actor_id, body, created_at
	FROM permit_annotations WHERE application_id = $1 ORDER BY created_at ASC, version ASC`
	var annotations []models.PermitAnnotation
	if err := r.db.SelectContext(ctx, &annotations, query, applicationID); err != nil {
		return nil, fmt.Errorf("list permit annotations: %w", err)
	}
	return annotations, nil
}

// List returns applications matching the filter, newest first.
func (r *PermitRepository) List(ctx context.Context, filter models.PermitApplicationFilter) ([]models.PermitApplication, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + permitColumns + ` FROM permit_applications`)
	where, args := permitFilterClause(filter)
	builder.WriteString(where)
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var apps []models.PermitApplication
	if err := r.db.SelectContext(ctx, &apps, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list permit applications: %w", err)
	}
	return apps, nil
}

// ListByStage returns inbox rows waiting at a stage in arrival order.
func (r *PermitRepository) ListByStage(ctx context.Context, stage models.PermitStage) ([]models.ApplicationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM permit_applications WHERE current_stage = $1 ORDER BY created_at ASC, id ASC`
	var rows []models.ApplicationSummary
	if err := r.db.SelectContext(ctx, &rows, query, stage); err != nil {
		return nil, fmt.Errorf("list applications at %s: %w", stage, err)
	}
	return rows, nil
}

func permitFilterClause(filter models.PermitApplicationFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 4)
	if len(filter.Stages) > 0 {
		placeholders := make([]string, len(filter.Stages))
		for i, stage := range filter.Stages {
			args = append(args, stage)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("current_stage IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PermitType != "" {
		args = append(args, filter.PermitType)
		conditions = append(conditions, fmt.Sprintf("permit_type = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// TransitionParams describes one stage move and the annotation it writes.
type TransitionParams struct {
	ApplicationID string
	FromStage     models.PermitStage
	ToStage       models.PermitStage
	Status        models.PermitStatus
	Complete      bool
	Action        string
	Field         models.AnnotationField
	Body          string
	RoleName      models.RoleName
	ActorID       string
	At            time.Time
	Permit        *models.PermitArtifact
}

// ApplyTransition moves the application only if it is still at FromStage and appends the
// annotation in the same transaction. A stage mismatch returns sql.ErrNoRows.
func (r *PermitRepository) ApplyTransition(ctx context.Context, params TransitionParams) (annotation *models.PermitAnnotation, err error) {
	column, ok := annotationColumns[params.Field]
	if !ok {
		return nil, fmt.Errorf("unknown annotation field %q", params.Field)
	}
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin permit transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	setParts := []string{
		"current_stage = $3",
		"status = $4",
		"complete = $5",
		column + " = $6",
		"updated_at = $7",
	}
	args := []interface{}{params.ApplicationID, params.FromStage, params.ToStage, params.Status, params.Complete, params.Body, params.At}
	if params.Permit != nil {
		args = append(args, params.Permit.PermitNumber, params.Permit.Path, params.Permit.IssuedAt)
		setParts = append(setParts, "permit_number = $8", "permit_path = $9", "permit_issued_at = $10")
	}
	update := fmt.Sprintf("UPDATE permit_applications SET %s WHERE id = $1 AND current_stage = $2", strings.Join(setParts, ", "))

	result, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return nil, fmt.Errorf("update permit stage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check permit update rows: %w", err)
	}
	if rows == 0 {
		err = sql.ErrNoRows
		return nil, err
	}

	annotation = &models.PermitAnnotation{
		ID:            uuid.NewString(),
		ApplicationID: params.ApplicationID,
		Field:         params.Field,
		Stage:         params.FromStage,
		Action:        params.Action,
		RoleName:      params.RoleName,
		ActorID:       params.ActorID,
		Body:          params.Body,
		CreatedAt:     params.At,
	}
	const insert = `INSERT INTO permit_annotations
	(id, application_id, field, version, stage, action, role_name, actor_id, body, created_at)
	SELECT $1, $2, $3, COALESCE(MAX(version), 0) + 1, $4, $5, $6, $7, $8, $9
	FROM permit_annotations WHERE application_id = $2 AND field = $3
	RETURNING version`
	if err = tx.QueryRowxContext(ctx, insert,
		annotation.ID, annotation.ApplicationID, annotation.Field, annotation.Stage, annotation.Action,
		annotation.RoleName, annotation.ActorID, annotation.Body, annotation.CreatedAt,
	).Scan(&annotation.Version); err != nil {
		return nil, fmt.Errorf("append permit annotation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit permit transition: %w", err)
	}
	return annotation, nil
}
