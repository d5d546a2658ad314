// Package geo resolves free-text eligibility locations into canonical
// state codes and maintains the opportunity/state junction rows.
package geo

import (
	_ "embed"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

//go:embed states.yaml
var statesYAML []byte

type stateEntry struct {
	Code    string   `yaml:"code"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type tableData struct {
	States  []stateEntry        `yaml:"states"`
	Regions map[string][]string `yaml:"regions"`
}

// aliasTable maps a normalized location string to the state codes it
// stands for. A state alias maps to one code; a region maps to several.
type aliasTable map[string][]string

var folder = cases.Fold()

// normalizeKey canonicalizes a location string for table lookup: case
// folding, punctuation stripped, whitespace collapsed. Matching is exact
// on the normalized form, never substring containment.
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range folder.String(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func loadAliasTable() (aliasTable, error) {
	var data tableData
	if err := yaml.Unmarshal(statesYAML, &data); err != nil {
		return nil, eris.Wrap(err, "geo: parse states.yaml")
	}

	table := make(aliasTable, len(data.States)*4+len(data.Regions))
	add := func(alias string, codes ...string) {
		key := normalizeKey(alias)
		if key == "" {
			return
		}
		table[key] = codes
	}

	for _, st := range data.States {
		add(st.Code, st.Code)
		add(st.Name, st.Code)
		for _, alias := range st.Aliases {
			add(alias, st.Code)
		}
	}
	for region, codes := range data.Regions {
		add(region, codes...)
	}

	return table, nil
}
