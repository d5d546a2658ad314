// Package loader reads normalized opportunities from JSON, CSV, or XLSX
// files for manual ingestion runs.
package loader

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/grantwell/ingest-cli/internal/model"
)

// LoadFile reads opportunities from a file, picking the parser by
// extension.
func LoadFile(path string) ([]model.Opportunity, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return loadJSON(path)
	case ".csv":
		return loadCSV(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, eris.Errorf("loader: unsupported file type %q", filepath.Ext(path))
	}
}

func loadJSON(path string) ([]model.Opportunity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: read json")
	}

	var opps []model.Opportunity
	if err := json.Unmarshal(data, &opps); err != nil {
		return nil, eris.Wrap(err, "loader: parse json")
	}
	return opps, nil
}

func loadCSV(path string) ([]model.Opportunity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open csv")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "loader: read csv")
	}
	if len(records) == 0 {
		return nil, nil
	}

	return rowsToOpportunities(records[0], records[1:])
}

func loadXLSX(path string) ([]model.Opportunity, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("loader: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return rowsToOpportunities(rows[0], rows[1:])
}

// rowsToOpportunities maps tabular rows onto opportunities using the
// header row for column positions. Unknown columns are ignored; rows
// shorter than the header are padded.
func rowsToOpportunities(header []string, rows [][]string) ([]model.Opportunity, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["title"]; !ok {
		return nil, eris.New("loader: missing required column \"title\"")
	}

	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	opps := make([]model.Opportunity, 0, len(rows))
	for _, row := range rows {
		opp := model.Opportunity{
			ExternalID:   get(row, "external_id"),
			Title:        get(row, "title"),
			Description:  get(row, "description"),
			FundingType:  get(row, "funding_type"),
			Status:       get(row, "status"),
			Organization: get(row, "organization"),
			IsNational:   parseBool(get(row, "is_national")),
		}
		opp.AmountMin = parseMoney(get(row, "amount_min"))
		opp.AmountMax = parseMoney(get(row, "amount_max"))
		opp.TotalFunding = parseMoney(get(row, "total_funding"))
		opp.OpenDate = parseDate(get(row, "open_date"))
		opp.CloseDate = parseDate(get(row, "close_date"))
		if locs := get(row, "eligible_locations"); locs != "" {
			for _, loc := range strings.Split(locs, ";") {
				if loc = strings.TrimSpace(loc); loc != "" {
					opp.EligibleLocations = append(opp.EligibleLocations, loc)
				}
			}
		}
		opps = append(opps, opp)
	}
	return opps, nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.ToLower(s))
	return err == nil && b
}

func parseMoney(s string) *float64 {
	if s == "" {
		return nil
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
