// Package tabular loads the pipeline's input tables from CSV and writes
// suggestion reports as NDJSON or CSV.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/feldkamp/equimatch/internal/model"
)

// Column names of the equipment record export.
const (
	colBuildingID  = "building_id"
	colClass       = "class"
	colDesignation = "designation"
	colDetail      = "detail"
	colCode        = "code"
	colArticleCode = "article_code"
)

// Column names of the catalog export.
const (
	colKey         = "key"
	colKind        = "kind"
	colDescription = "description"
)

// Column names of the observation export.
const (
	colInstallation = "installation"
	colRole         = "role"
	colEntityID     = "entity_id"
	colParentID     = "parent_id"
)

// table is a header-indexed CSV file. Missing trailing fields read as "".
type table struct {
	header map[string]int
	rows   [][]string
}

func readTable(path string, required ...string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	t := &table{header: make(map[string]int, len(head))}
	for i, h := range head {
		t.header[strings.TrimSpace(h)] = i
	}
	for _, col := range required {
		if _, ok := t.header[col]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, col)
		}
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		t.rows = append(t.rows, rec)
	}
	return t, nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// LoadRecords reads the equipment record export. Record indices follow file
// order so they stay valid across pipeline stages.
func LoadRecords(path string) ([]model.Record, error) {
	t, err := readTable(path, colBuildingID, colDesignation)
	if err != nil {
		return nil, err
	}
	records := make([]model.Record, len(t.rows))
	for i, row := range t.rows {
		records[i] = model.Record{
			Index:       i,
			BuildingID:  t.get(row, colBuildingID),
			Class:       t.get(row, colClass),
			Designation: t.get(row, colDesignation),
			Detail:      t.get(row, colDetail),
			Code:        t.get(row, colCode),
			ArticleCode: t.get(row, colArticleCode),
		}
	}
	return records, nil
}

// LoadCatalog reads the reference catalog export in file order.
func LoadCatalog(path string) ([]model.CatalogEntry, error) {
	t, err := readTable(path, colKey, colKind, colDescription)
	if err != nil {
		return nil, err
	}
	entries := make([]model.CatalogEntry, len(t.rows))
	for i, row := range t.rows {
		entries[i] = model.CatalogEntry{
			Index:       i,
			Key:         t.get(row, colKey),
			Kind:        t.get(row, colKind),
			Description: t.get(row, colDescription),
			ArticleCode: t.get(row, colArticleCode),
		}
	}
	return entries, nil
}

// LoadObservations reads the reference building database export. Unknown
// role values are rejected.
func LoadObservations(path string) ([]model.Observation, error) {
	t, err := readTable(path, colBuildingID, colInstallation, colRole)
	if err != nil {
		return nil, err
	}
	observations := make([]model.Observation, len(t.rows))
	for i, row := range t.rows {
		role, err := parseRole(t.get(row, colRole))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		observations[i] = model.Observation{
			BuildingID:   t.get(row, colBuildingID),
			Installation: t.get(row, colInstallation),
			Role:         role,
			Code:         t.get(row, colCode),
			EntityID:     t.get(row, colEntityID),
			ParentID:     t.get(row, colParentID),
		}
	}
	return observations, nil
}

func parseRole(s string) (model.Role, error) {
	switch strings.ToLower(s) {
	case "system":
		return model.RoleSystem, nil
	case "component":
		return model.RoleComponent, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}
