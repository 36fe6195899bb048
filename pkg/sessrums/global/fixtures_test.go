package global

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/dikini/sessrums/pkg/sessrums/role"
)

// wellFormedCase is a table-driven fixture describing one (from, to) pair
// to check for the self-send invariant, loaded from YAML the way the
// teacher's config loader reads structured text into tagged structs
// (_examples/tenzoki-agen's internal/config), used here only to build test
// tables, never for runtime wiring (see SPEC_FULL.md's ambient-stack
// notes on config).
type wellFormedCase struct {
	Name    string `yaml:"name"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	WantErr bool   `yaml:"want_err"`
}

const wellFormedFixture = `
- name: distinct participants
  from: client
  to: server
  want_err: false
- name: self send
  from: client
  to: client
  want_err: true
`

func Test_WellFormed_Fixture(t *testing.T) {
	var cases []wellFormedCase
	if err := yaml.Unmarshal([]byte(wellFormedFixture), &cases); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("loaded %d cases, want 2", len(cases))
	}

	for _, c := range cases {
		t.Run(c.Name, func(t *testing.T) {
			g := msg(role.ID(c.From), role.ID(c.To), End{})
			err := WellFormed(g)
			if c.WantErr && err == nil {
				t.Fatalf("expected an error for %s -> %s", c.From, c.To)
			}
			if !c.WantErr && err != nil {
				t.Fatalf("unexpected error for %s -> %s: %v", c.From, c.To, err)
			}
		})
	}
}
