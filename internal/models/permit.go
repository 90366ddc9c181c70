package models

import (
	"strings"
	"time"
)

// PermitStage is a position in the approval workflow.
type PermitStage string

const (
	StageDCPending         PermitStage = "DC_PENDING"
	StageSPPending         PermitStage = "SP_PENDING"
	StageSDPOPending       PermitStage = "SDPO_PENDING"
	StageOCPending         PermitStage = "OC_PENDING"
	StageSDPOReviewPending PermitStage = "SDPO_REVIEW_PENDING"
	StageSPReviewPending   PermitStage = "SP_REVIEW_PENDING"
	StageDCFinalPending    PermitStage = "DC_FINAL_PENDING"
	StageCompleted         PermitStage = "COMPLETED"
	StageRejected          PermitStage = "REJECTED"
)

// PermitStatus is the coarse outcome derived from the stage.
type PermitStatus string

const (
	PermitStatusPending  PermitStatus = "PENDING"
	PermitStatusApproved PermitStatus = "APPROVED"
	PermitStatusRejected PermitStatus = "REJECTED"
)

// PermitType enumerates the event categories an applicant can request.
type PermitType string

const (
	PermitTypePublicGathering    PermitType = "PUBLIC_GATHERING"
	PermitTypeRally              PermitType = "RALLY"
	PermitTypeLoudspeaker        PermitType = "LOUDSPEAKER"
	PermitTypeTemporaryStructure PermitType = "TEMPORARY_STRUCTURE"
	PermitTypeConcert            PermitType = "CONCERT"
	PermitTypeDrone              PermitType = "DRONE"
	PermitTypeProcession         PermitType = "PROCESSION"
	PermitTypeOther              PermitType = "OTHER"
)

var permitTypeLabels = map[PermitType]string{
	PermitTypePublicGathering:    "Public gatherings",
	PermitTypeRally:              "Rallies",
	PermitTypeLoudspeaker:        "Use of loudspeakers",
	PermitTypeTemporaryStructure: "Temporary structures",
	PermitTypeConcert:            "Concert",
	PermitTypeDrone:              "Flying drone",
	PermitTypeProcession:         "Processions",
	PermitTypeOther:              "Others",
}

// Label returns the human readable category name.
func (t PermitType) Label() string {
	if label, ok := permitTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// ParsePermitType accepts either a code or its label, case-insensitively.
func ParsePermitType(raw string) (PermitType, bool) {
	needle := strings.TrimSpace(raw)
	for code, label := range permitTypeLabels {
		if strings.EqualFold(needle, string(code)) || strings.EqualFold(needle, label) {
			return code, true
		}
	}
	return "", false
}

// AnnotationField names the remark slot a transition writes to.
type AnnotationField string

const (
	FieldDCRemarks   AnnotationField = "DC_REMARKS"
	FieldSPRemarks   AnnotationField = "SP_REMARKS"
	FieldSDPORemarks AnnotationField = "SDPO_REMARKS"
	FieldOCReport    AnnotationField = "OC_REPORT"
)

// PermitApplication is the persisted permit request.
type PermitApplication struct {
	ID               string       `db:"id" json:"applicationId"`
	UserID           string       `db:"user_id" json:"userId"`
	EventTitle       string       `db:"event_title" json:"eventTitle"`
	Purpose          string       `db:"purpose" json:"purpose"`
	StartDateTime    time.Time    `db:"start_date_time" json:"startDateTime"`
	EndDateTime      time.Time    `db:"end_date_time" json:"endDateTime"`
	PermitType       PermitType   `db:"permit_type" json:"permitType"`
	LocationTag      string       `db:"location_tag" json:"locationTag"`
	DocumentPath     *string      `db:"document_path" json:"-"`
	DocumentFileName *string      `db:"document_file_name" json:"documentFileName,omitempty"`
	DocumentMimeType *string      `db:"document_mime_type" json:"documentMimeType,omitempty"`
	CurrentStage     PermitStage  `db:"current_stage" json:"currentStage"`
	Status           PermitStatus `db:"status" json:"status"`
	Complete         bool         `db:"complete" json:"complete"`
	DCRemarks        *string      `db:"dc_remarks" json:"dcRemarks,omitempty"`
	SPRemarks        *string      `db:"sp_remarks" json:"spRemarks,omitempty"`
	SDPORemarks      *string      `db:"sdpo_remarks" json:"sdpoRemarks,omitempty"`
	OCReport         *string      `db:"oc_report" json:"ocReport,omitempty"`
	PermitNumber     *string      `db:"permit_number" json:"permitNumber,omitempty"`
	PermitPath       *string      `db:"permit_path" json:"-"`
	PermitIssuedAt   *time.Time   `db:"permit_issued_at" json:"permitIssuedAt,omitempty"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updatedAt"`

	Annotations []PermitAnnotation `db:"-" json:"annotations,omitempty"`
}

// Annotation returns the latest value stored for the given field.
func (p *PermitApplication) Annotation(field AnnotationField) *string {
	switch field {
	case FieldDCRemarks:
		return p.DCRemarks
	case FieldSPRemarks:
		return p.SPRemarks
	case FieldSDPORemarks:
		return p.SDPORemarks
	case FieldOCReport:
		return p.OCReport
	default:
		return nil
	}
}

// SetAnnotation stores the latest value for the given field.
func (p *PermitApplication) SetAnnotation(field AnnotationField, body string) {
	v := body
	switch field {
	case FieldDCRemarks:
		p.DCRemarks = &v
	case FieldSPRemarks:
		p.SPRemarks = &v
	case FieldSDPORemarks:
		p.SDPORemarks = &v
	case FieldOCReport:
		p.OCReport = &v
	}
}

// PermitAnnotation is one append-only remark or report entry.
type PermitAnnotation struct {
	ID            string          `db:"id" json:"id"`
	ApplicationID string          `db:"application_id" json:"applicationId"`
	Field         AnnotationField `db:"field" json:"field"`
	Version       int             `db:"version" json:"version"`
	Stage         PermitStage     `db:"stage" json:"stage"`
	Action        string          `db:"action" json:"action"`
	RoleName      RoleName        `db:"role_name" json:"roleName"`
	ActorID       string          `db:"actor_id" json:"actorId"`
	Body          string          `db:"body" json:"body"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// PermitApplicationFilter constrains listing queries.
type PermitApplicationFilter struct {
	Stages     []PermitStage
	Status     PermitStatus
	PermitType PermitType
	UserID     string
	Limit      int
	Offset     int
}

// ApplicationSummary is the inbox row shape.
type ApplicationSummary struct {
	ApplicationID    string       `db:"id" json:"applicationId"`
	UserID           string       `db:"user_id" json:"userId"`
	EventTitle       string       `db:"event_title" json:"eventTitle"`
	PermitType       PermitType   `db:"permit_type" json:"permitType"`
	LocationTag      string       `db:"location_tag" json:"locationTag"`
	StartDateTime    time.Time    `db:"start_date_time" json:"startDateTime"`
	EndDateTime      time.Time    `db:"end_date_time" json:"endDateTime"`
	DocumentFileName *string      `db:"document_file_name" json:"documentFileName,omitempty"`
	CurrentStage     PermitStage  `db:"current_stage" json:"currentStage"`
	Status           PermitStatus `db:"status" json:"status"`
	Complete         bool         `db:"complete" json:"complete"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updatedAt"`
}

// PermitArtifact is the generated permit document for an approved application.
type PermitArtifact struct {
	PermitNumber string
	Path         string
	IssuedAt     time.Time
}

// TransitionEvent is published after a transition commits.
type TransitionEvent struct {
	ApplicationID string       `json:"applicationId"`
	Action        string       `json:"action"`
	FromStage     PermitStage  `json:"fromStage"`
	ToStage       PermitStage  `json:"toStage"`
	Status        PermitStatus `json:"status"`
	ActorID       string       `json:"actorId"`
	RoleName      RoleName     `json:"roleName"`
	OccurredAt    time.Time    `json:"occurredAt"`
}
