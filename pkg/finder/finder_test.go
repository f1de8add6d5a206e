package finder

import (
	"testing"

	"github.com/devicelab-dev/flutter-control/pkg/core"
)

func TestParse_SingleKeys(t *testing.T) {
	tests := []struct {
		name        string
		constraints map[string]interface{}
		want        Finder
	}{
		{"text", map[string]interface{}{"text": "Increment"}, ByText("Increment")},
		{"id", map[string]interface{}{"id": "fab"}, ByID("fab")},
		{"contentDescription aliases id", map[string]interface{}{"contentDescription": "fab"}, ByID("fab")},
		{"key", map[string]interface{}{"key": "counter"}, ByKey("counter")},
		{"type", map[string]interface{}{"type": "ElevatedButton"}, ByType("ElevatedButton")},
		{"tooltip", map[string]interface{}{"tooltip": "Add"}, ByTooltip("Add")},
		{"semanticsLabel", map[string]interface{}{"semanticsLabel": "Add"}, BySemanticsLabel("Add", false)},
		{"semanticsLabel regex", map[string]interface{}{"semanticsLabel": "Add.*", "isRegex": true}, BySemanticsLabel("Add.*", true)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.constraints)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.Describe(), tt.want.Describe())
			}
		})
	}
}

func TestParse_Priority(t *testing.T) {
	tests := []struct {
		name        string
		constraints map[string]interface{}
		wantKind    Kind
	}{
		{"key beats text", map[string]interface{}{"key": "k", "text": "t"}, KindKey},
		{"key beats id", map[string]interface{}{"key": "k", "id": "i"}, KindKey},
		{"type beats text", map[string]interface{}{"type": "T", "text": "t"}, KindType},
		{"text beats tooltip", map[string]interface{}{"text": "t", "tooltip": "tip"}, KindText},
		{"tooltip beats id", map[string]interface{}{"tooltip": "tip", "id": "i"}, KindTooltip},
		{"semanticsLabel beats id", map[string]interface{}{"semanticsLabel": "l", "id": "i"}, KindSemanticsLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.constraints)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.Kind() != tt.wantKind {
				t.Errorf("got kind %s, want %s", got.Kind(), tt.wantKind)
			}
		})
	}
}

func TestParse_ReservedKeysOnly(t *testing.T) {
	_, err := Parse(map[string]interface{}{
		"first":   true,
		"index":   2,
		"backend": "driver",
		"timeout": 5,
	})
	if err == nil {
		t.Fatal("expected error for constraint map with only reserved keys")
	}
	ee, ok := err.(*core.ExecutionError)
	if !ok || ee.Code != "invalid_finder" {
		t.Errorf("expected invalid_finder error, got %v", err)
	}
}

func TestParse_EmptyValueIgnored(t *testing.T) {
	// An empty string does not discriminate; falls through to the next key.
	f, err := Parse(map[string]interface{}{"key": "", "text": "t"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Kind() != KindText {
		t.Errorf("got kind %s, want text", f.Kind())
	}
}

func TestParse_Composite(t *testing.T) {
	f, err := Parse(map[string]interface{}{
		"ancestor": map[string]interface{}{
			"of":       map[string]interface{}{"type": "ListView"},
			"matching": map[string]interface{}{"text": "Row 3"},
		},
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Kind() != KindAncestor {
		t.Fatalf("got kind %s, want ancestor", f.Kind())
	}

	wire := f.Serialize()
	if wire["finderType"] != "Ancestor" {
		t.Errorf("finderType = %v", wire["finderType"])
	}
	of, ok := wire["of"].(map[string]interface{})
	if !ok || of["finderType"] != "ByType" {
		t.Errorf("of = %v", wire["of"])
	}
}

func TestParse_CompositeMissingParts(t *testing.T) {
	tests := []struct {
		name        string
		constraints map[string]interface{}
	}{
		{"not an object", map[string]interface{}{"descendant": "nope"}},
		{"missing of", map[string]interface{}{"ancestor": map[string]interface{}{
			"matching": map[string]interface{}{"text": "x"},
		}}},
		{"missing matching", map[string]interface{}{"ancestor": map[string]interface{}{
			"of": map[string]interface{}{"text": "x"},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.constraints); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSerialize_WireShapes(t *testing.T) {
	tests := []struct {
		name   string
		finder Finder
		want   map[string]interface{}
	}{
		{"key", ByKey("counter"), map[string]interface{}{
			"finderType": "ByValueKey", "keyValueString": "counter", "keyValueType": "String",
		}},
		{"type", ByType("FloatingActionButton"), map[string]interface{}{
			"finderType": "ByType", "type": "FloatingActionButton",
		}},
		{"text", ByText("Increment"), map[string]interface{}{
			"finderType": "ByText", "text": "Increment",
		}},
		{"tooltip", ByTooltip("Add"), map[string]interface{}{
			"finderType": "ByTooltipMessage", "text": "Add",
		}},
		{"semanticsLabel", BySemanticsLabel("Add", true), map[string]interface{}{
			"finderType": "BySemanticsLabel", "label": "Add", "isRegExp": true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.finder.Serialize()
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestConstraints_RoundTrip(t *testing.T) {
	finders := []Finder{
		ByText("Increment"),
		ByID("fab"),
		ByKey("counter"),
		ByType("Text"),
		ByTooltip("Add"),
		BySemanticsLabel("Add.*", true),
		ByAncestor(ByType("ListView"), ByText("Row 3"), true, false),
		ByDescendant(ByKey("list"), ByText("Row 9"), false, true),
	}

	for _, f := range finders {
		t.Run(f.Describe(), func(t *testing.T) {
			parsed, err := Parse(f.Constraints())
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !parsed.Equal(f) {
				t.Errorf("round trip changed finder: got %s, want %s", parsed.Describe(), f.Describe())
			}
		})
	}
}
