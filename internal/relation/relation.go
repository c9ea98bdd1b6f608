// Package relation links component observations to the systems they belong
// to and derives which component types a system type usually carries, so
// buildings with a system but without its usual components can be flagged.
package relation

import (
	"fmt"
	"sort"

	"github.com/feldkamp/equimatch/internal/model"
)

// DefaultConfidence is the probability attached to component suggestions.
// Component links come from structural reference data rather than from a
// statistical signal, so a single fixed confidence applies.
const DefaultConfidence = 0.9

// Link is one resolved system-component pair inside a building.
type Link struct {
	BuildingID string
	System     string // system installation type
	Component  string // component installation type
	Code       string // identifier code shared by the pair
}

// Links resolves system-component pairs per building. A component links to a
// system when its ParentID names the system's entity, or, failing that, when
// both carry the same non-empty identifier code.
func Links(observations []model.Observation) []Link {
	type systemRef struct {
		installation string
		code         string
	}

	byBuilding := make(map[string][]model.Observation)
	for _, o := range observations {
		if o.BuildingID == "" || o.Installation == "" {
			continue
		}
		byBuilding[o.BuildingID] = append(byBuilding[o.BuildingID], o)
	}

	var links []Link
	for building, obs := range byBuilding {
		byEntity := make(map[string]systemRef)
		byCode := make(map[string]systemRef)
		for _, o := range obs {
			if o.Role != model.RoleSystem {
				continue
			}
			ref := systemRef{installation: o.Installation, code: o.Code}
			if o.EntityID != "" {
				byEntity[o.EntityID] = ref
			}
			if o.Code != "" {
				byCode[o.Code] = ref
			}
		}

		for _, o := range obs {
			if o.Role != model.RoleComponent {
				continue
			}
			if sys, ok := byEntity[o.ParentID]; ok && o.ParentID != "" {
				links = append(links, Link{BuildingID: building, System: sys.installation, Component: o.Installation, Code: sys.code})
				continue
			}
			if sys, ok := byCode[o.Code]; ok && o.Code != "" {
				links = append(links, Link{BuildingID: building, System: sys.installation, Component: o.Installation, Code: o.Code})
			}
		}
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].BuildingID != links[j].BuildingID {
			return links[i].BuildingID < links[j].BuildingID
		}
		if links[i].System != links[j].System {
			return links[i].System < links[j].System
		}
		return links[i].Component < links[j].Component
	})
	return links
}

// Registry records which component types have been observed under each
// system type anywhere in the reference data.
type Registry struct {
	components map[string]map[string]bool // system type → component types
}

// BuildRegistry resolves links over the reference observations and folds
// them into a per-system-type component registry.
func BuildRegistry(observations []model.Observation) *Registry {
	r := &Registry{components: make(map[string]map[string]bool)}
	for _, l := range Links(observations) {
		set := r.components[l.System]
		if set == nil {
			set = make(map[string]bool)
			r.components[l.System] = set
		}
		set[l.Component] = true
	}
	return r
}

// ComponentsOf returns the known component types of a system type, sorted.
func (r *Registry) ComponentsOf(system string) []string {
	set := r.components[system]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// MissingComponents walks the target buildings' system observations and
// suggests every registry component the building does not already contain.
// A component counts as present when the building carries its installation
// type, or when any component row in the building carries the identifier
// code the suggestion would name. One suggestion per (building, component,
// code) triple.
func MissingComponents(reg *Registry, observations []model.Observation) []model.Suggestion {
	present := make(map[string]map[string]bool)   // building → installations present
	compCodes := make(map[string]map[string]bool) // building → component codes present
	for _, o := range observations {
		if o.BuildingID == "" {
			continue
		}
		if o.Installation != "" {
			set := present[o.BuildingID]
			if set == nil {
				set = make(map[string]bool)
				present[o.BuildingID] = set
			}
			set[o.Installation] = true
		}
		if o.Role == model.RoleComponent && o.Code != "" {
			set := compCodes[o.BuildingID]
			if set == nil {
				set = make(map[string]bool)
				compCodes[o.BuildingID] = set
			}
			set[o.Code] = true
		}
	}

	seen := make(map[string]bool)
	var out []model.Suggestion
	for _, o := range observations {
		if o.Role != model.RoleSystem || o.BuildingID == "" {
			continue
		}
		for _, comp := range reg.ComponentsOf(o.Installation) {
			if present[o.BuildingID][comp] {
				continue
			}
			if o.Code != "" && compCodes[o.BuildingID][o.Code] {
				continue
			}
			key := o.BuildingID + "\x00" + comp + "\x00" + o.Code
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, model.Suggestion{
				BuildingID:   o.BuildingID,
				Installation: comp,
				Probability:  DefaultConfidence,
				Reason:       model.ReasonComponent,
				Details:      fmt.Sprintf("Belongs to system: %s", o.Installation),
				Code:         o.Code,
			})
		}
	}
	return out
}
