package model

// Role distinguishes systems from their components in the reference data.
type Role string

const (
	RoleSystem    Role = "system"
	RoleComponent Role = "component"
)

// Observation is one row of the reference building database: an installation
// observed in a building, with its structural role and identifier code.
type Observation struct {
	BuildingID   string
	Installation string // installation-type designation
	Role         Role
	Code         string // structural identifier code linking components to systems
	EntityID     string // reference entity id (systems only need it)
	ParentID     string // for components: id of the system they belong to
}
