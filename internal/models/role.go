package models

// RoleName identifies a role known to the permit workflow.
type RoleName string

const (
	RoleAdmin     RoleName = "ADMIN"
	RoleDC        RoleName = "DC"
	RoleSP        RoleName = "SP"
	RoleSDPO      RoleName = "SDPO"
	RoleOC        RoleName = "OC"
	RoleAuthority RoleName = "AUTHORITY"
	RoleApplicant RoleName = "APPLICANT"
)

// Stable role identifiers as seeded in the roles table.
const (
	RoleIDAdmin     = 1
	RoleIDDC        = 2
	RoleIDSP        = 3
	RoleIDSDPO      = 4
	RoleIDOC        = 5
	RoleIDAuthority = 6
	RoleIDApplicant = 7
)

// Actor is the authenticated identity performing an operation.
type Actor struct {
	UserID   string   `json:"userId"`
	RoleID   int      `json:"roleId"`
	RoleName RoleName `json:"roleName"`
}

// RoleView describes a registry role in API responses.
type RoleView struct {
	RoleID   int           `json:"roleId"`
	RoleName RoleName      `json:"roleName"`
	Seat     RoleName      `json:"seat,omitempty"`
	Stages   []PermitStage `json:"stages"`
}
