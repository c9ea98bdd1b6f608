// Package stats derives portfolio-level statistics from equipment
// observations: which installation types occur in which buildings, how
// frequent each type is, and how strongly pairs of types co-occur.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/feldkamp/equimatch/internal/model"
)

// Presence is a binary building x installation matrix. Rows and columns are
// sorted lexicographically so repeated runs over the same data produce
// identical tables.
type Presence struct {
	Buildings     []string
	Installations []string

	buildingPos map[string]int
	instPos     map[string]int
	cols        [][]float64 // one column vector per installation, indexed by building
}

// BuildPresence folds observations into a presence matrix. Duplicate
// observations of the same installation in the same building collapse into a
// single presence bit.
func BuildPresence(observations []model.Observation) *Presence {
	buildingSet := make(map[string]bool)
	instSet := make(map[string]bool)
	for _, o := range observations {
		if o.BuildingID == "" || o.Installation == "" {
			continue
		}
		buildingSet[o.BuildingID] = true
		instSet[o.Installation] = true
	}

	p := &Presence{
		Buildings:     sortedKeys(buildingSet),
		Installations: sortedKeys(instSet),
	}
	p.buildingPos = positions(p.Buildings)
	p.instPos = positions(p.Installations)

	p.cols = make([][]float64, len(p.Installations))
	for i := range p.cols {
		p.cols[i] = make([]float64, len(p.Buildings))
	}
	for _, o := range observations {
		bi, ok := p.buildingPos[o.BuildingID]
		if !ok {
			continue
		}
		ii, ok := p.instPos[o.Installation]
		if !ok {
			continue
		}
		p.cols[ii][bi] = 1
	}
	return p
}

// Has reports whether the building contains the installation type.
func (p *Presence) Has(buildingID, installation string) bool {
	bi, ok := p.buildingPos[buildingID]
	if !ok {
		return false
	}
	ii, ok := p.instPos[installation]
	if !ok {
		return false
	}
	return p.cols[ii][bi] == 1
}

// Frequency is one row of the frequency table.
type Frequency struct {
	Installation string  `json:"installation"`
	Count        int     `json:"count"`
	Percent      float64 `json:"percent"`
	Bucket       string  `json:"bucket"`
}

// Frequencies returns, per installation type, the share of buildings that
// contain it, bucketed into qualitative labels.
func (p *Presence) Frequencies() []Frequency {
	out := make([]Frequency, len(p.Installations))
	for i, inst := range p.Installations {
		count := 0
		for _, v := range p.cols[i] {
			if v == 1 {
				count++
			}
		}
		pct := 0.0
		if len(p.Buildings) > 0 {
			pct = 100 * float64(count) / float64(len(p.Buildings))
		}
		out[i] = Frequency{
			Installation: inst,
			Count:        count,
			Percent:      pct,
			Bucket:       Bucket(pct),
		}
	}
	return out
}

// Bucket labels a percentage. Bucket bounds are inclusive at the lower end:
// exactly 25% is "medium", exactly 75% is "very common".
func Bucket(percent float64) string {
	switch {
	case percent < 10:
		return "very rare"
	case percent < 25:
		return "rare"
	case percent < 50:
		return "medium"
	case percent < 75:
		return "common"
	default:
		return "very common"
	}
}

// Correlation is the Pearson coefficient for one installation pair.
type Correlation struct {
	A           string  `json:"a"`
	B           string  `json:"b"`
	Coefficient float64 `json:"coefficient"`
}

// Correlations computes the Pearson coefficient over the presence columns of
// every unordered installation pair. A column with zero variance (an
// installation present everywhere or nowhere) correlates 0 with everything.
func (p *Presence) Correlations() []Correlation {
	var out []Correlation
	for i := 0; i < len(p.Installations); i++ {
		for j := i + 1; j < len(p.Installations); j++ {
			out = append(out, Correlation{
				A:           p.Installations[i],
				B:           p.Installations[j],
				Coefficient: pearson(p.cols[i], p.cols[j]),
			})
		}
	}
	return out
}

func pearson(x, y []float64) float64 {
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func positions(keys []string) map[string]int {
	m := make(map[string]int, len(keys))
	for i, k := range keys {
		m[k] = i
	}
	return m
}
