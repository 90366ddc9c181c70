package dto

import (
	"time"

	"github.com/noah-isme/permit-api/internal/models"
)

// CreatePermitApplicationRequest is the applicant submission payload.
type CreatePermitApplicationRequest struct {
	EventTitle    string    `json:"eventTitle" validate:"required,max=200"`
	Purpose       string    `json:"purpose" validate:"max=2000"`
	StartDateTime time.Time `json:"startDateTime" validate:"required"`
	EndDateTime   time.Time `json:"endDateTime" validate:"required,gtfield=StartDateTime"`
	PermitType    string    `json:"permitType" validate:"required,permit_type"`
	LocationTag   string    `json:"locationTag" validate:"required,max=200"`
}

// RemarksRequest carries the justification text for authority actions.
type RemarksRequest struct {
	Remarks string `json:"remarks"`
}

// ReportRequest carries the OC field investigation report.
type ReportRequest struct {
	Report string `json:"report"`
}

// PermitApplicationQuery mirrors supported listing filters.
type PermitApplicationQuery struct {
	Stage      string `form:"stage"`
	Status     string `form:"status"`
	PermitType string `form:"permitType"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// InboxFailure reports a stage whose fetch failed.
type InboxFailure struct {
	Stage   models.PermitStage `json:"stage"`
	Code    string             `json:"code"`
	Message string             `json:"message"`
}

// InboxResult is the merged inbox for a role.
type InboxResult struct {
	Role     models.RoleName             `json:"role"`
	Stages   []models.PermitStage        `json:"stages"`
	Items    []models.ApplicationSummary `json:"items"`
	Failures []InboxFailure              `json:"failures,omitempty"`
}

// PermitURLResponse returns a signed permit link.
type PermitURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}
