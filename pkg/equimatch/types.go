package equimatch

import "github.com/feldkamp/equimatch/internal/model"

// Record is one equipment record of a building.
type Record struct {
	BuildingID  string
	Class       string
	Designation string
	Detail      string
	Code        string
	ArticleCode string
}

// CatalogEntry is one row of the reference catalog, in file order. Entries
// whose Kind starts with "NG" are headings; the rows that follow a heading
// up to the next heading are its articles.
type CatalogEntry struct {
	Key         string
	Kind        string
	Description string
	ArticleCode string
}

// Role distinguishes systems from components in the building database.
type Role string

const (
	RoleSystem    Role = Role(model.RoleSystem)
	RoleComponent Role = Role(model.RoleComponent)
)

// Observation is one installation observed in a building.
type Observation struct {
	BuildingID   string
	Installation string
	Role         Role
	Code         string
	EntityID     string
	ParentID     string
}

// Group is a set of near-duplicate records, identified by their positions
// in the input slice.
type Group struct {
	Representative int
	Members        []int
}

// Assignment maps a record (by input position) to a catalog heading (by
// catalog position). Heading is -1 when the record stayed unresolved.
type Assignment struct {
	Record      int
	Heading     int
	Confidence  float64
	Provenance  string
	ArticleCode string
}

// Suggestion proposes a probably-missing installation for a building.
type Suggestion struct {
	BuildingID   string
	Installation string
	Probability  float64
	Reason       string
	Details      string
	Code         string
}

// Result bundles the outputs of one full pipeline run.
type Result struct {
	RunID       string
	Groups      []Group
	Assignments []Assignment
	Suggestions []Suggestion
}

func toModelRecords(records []Record) []model.Record {
	out := make([]model.Record, len(records))
	for i, r := range records {
		out[i] = model.Record{
			Index:       i,
			BuildingID:  r.BuildingID,
			Class:       r.Class,
			Designation: r.Designation,
			Detail:      r.Detail,
			Code:        r.Code,
			ArticleCode: r.ArticleCode,
		}
	}
	return out
}

func toModelEntries(entries []CatalogEntry) []model.CatalogEntry {
	out := make([]model.CatalogEntry, len(entries))
	for i, e := range entries {
		out[i] = model.CatalogEntry{
			Index:       i,
			Key:         e.Key,
			Kind:        e.Kind,
			Description: e.Description,
			ArticleCode: e.ArticleCode,
		}
	}
	return out
}

func toModelObservations(observations []Observation) []model.Observation {
	out := make([]model.Observation, len(observations))
	for i, o := range observations {
		out[i] = model.Observation{
			BuildingID:   o.BuildingID,
			Installation: o.Installation,
			Role:         model.Role(o.Role),
			Code:         o.Code,
			EntityID:     o.EntityID,
			ParentID:     o.ParentID,
		}
	}
	return out
}

func fromModelGroups(groups []model.Group) []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = Group{Representative: g.Representative, Members: g.Members}
	}
	return out
}

func fromModelAssignments(assignments []model.HeadingAssignment) []Assignment {
	out := make([]Assignment, len(assignments))
	for i, a := range assignments {
		out[i] = Assignment{
			Record:      a.RecordIndex,
			Heading:     a.HeadingIndex,
			Confidence:  a.Confidence,
			Provenance:  string(a.Provenance),
			ArticleCode: a.ArticleCode,
		}
	}
	return out
}

func fromModelSuggestions(suggestions []model.Suggestion) []Suggestion {
	out := make([]Suggestion, len(suggestions))
	for i, s := range suggestions {
		out[i] = Suggestion{
			BuildingID:   s.BuildingID,
			Installation: s.Installation,
			Probability:  s.Probability,
			Reason:       string(s.Reason),
			Details:      s.Details,
			Code:         s.Code,
		}
	}
	return out
}
