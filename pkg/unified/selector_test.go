package unified

import (
	"testing"

	"github.com/devicelab-dev/flutter-control/pkg/core"
	"github.com/devicelab-dev/flutter-control/pkg/finder"
)

func TestSelect_Order(t *testing.T) {
	tests := []struct {
		name   string
		finder finder.Finder
		want   []core.Backend
	}{
		{"key is driver only", finder.ByKey("counter"), []core.Backend{core.BackendDriver}},
		{"type is driver only", finder.ByType("Text"), []core.Backend{core.BackendDriver}},
		{"tooltip is driver only", finder.ByTooltip("Add"), []core.Backend{core.BackendDriver}},
		{"ancestor is driver only",
			finder.ByAncestor(finder.ByType("ListView"), finder.ByText("Row"), false, false),
			[]core.Backend{core.BackendDriver}},
		{"id is maestro only", finder.ByID("fab"), []core.Backend{core.BackendMaestro}},
		{"text tries both, maestro first", finder.ByText("Increment"),
			[]core.Backend{core.BackendMaestro, core.BackendDriver}},
		{"semanticsLabel tries both, maestro first", finder.BySemanticsLabel("Add", false),
			[]core.Backend{core.BackendMaestro, core.BackendDriver}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := Select(tt.finder, nil)
			if len(sel.Order) != len(tt.want) {
				t.Fatalf("order = %v, want %v", sel.Order, tt.want)
			}
			for i, b := range tt.want {
				if sel.Order[i] != b {
					t.Errorf("order[%d] = %s, want %s", i, sel.Order[i], b)
				}
			}
			if sel.Reason == "" {
				t.Error("selection has no reason")
			}
		})
	}
}

func TestSelect_Override(t *testing.T) {
	// The override is a hard constraint even against capability.
	driver := core.BackendDriver
	sel := Select(finder.ByID("fab"), &driver)
	if len(sel.Order) != 1 || sel.Order[0] != core.BackendDriver {
		t.Errorf("order = %v, want [driver]", sel.Order)
	}

	maestro := core.BackendMaestro
	sel = Select(finder.ByText("Increment"), &maestro)
	if len(sel.Order) != 1 || sel.Order[0] != core.BackendMaestro {
		t.Errorf("order = %v, want [maestro]", sel.Order)
	}
}

func TestSupports(t *testing.T) {
	tests := []struct {
		finder  finder.Finder
		backend core.Backend
		want    bool
	}{
		{finder.ByKey("k"), core.BackendDriver, true},
		{finder.ByKey("k"), core.BackendMaestro, false},
		{finder.ByID("i"), core.BackendMaestro, true},
		{finder.ByID("i"), core.BackendDriver, false},
		{finder.ByText("t"), core.BackendMaestro, true},
		{finder.ByText("t"), core.BackendDriver, true},
	}

	for _, tt := range tests {
		if got := Supports(tt.finder, tt.backend); got != tt.want {
			t.Errorf("Supports(%s, %s) = %v, want %v", tt.finder.Describe(), tt.backend, got, tt.want)
		}
	}
}
