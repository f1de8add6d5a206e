// Package finder models element lookups independently of backend.
// A Finder is parsed once from the caller's constraint map and later
// serialized to the Flutter Driver wire shape when the driver backend runs.
package finder

import (
	"fmt"

	"github.com/devicelab-dev/flutter-control/pkg/core"
)

// Kind discriminates the finder variants.
type Kind int

const (
	KindText Kind = iota
	KindID
	KindKey
	KindType
	KindTooltip
	KindSemanticsLabel
	KindAncestor
	KindDescendant
)

// String returns the constraint-map key for the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindID:
		return "id"
	case KindKey:
		return "key"
	case KindType:
		return "type"
	case KindTooltip:
		return "tooltip"
	case KindSemanticsLabel:
		return "semanticsLabel"
	case KindAncestor:
		return "ancestor"
	case KindDescendant:
		return "descendant"
	default:
		return "unknown"
	}
}

// Finder is an immutable description of "which element".
// Value is the lookup term for leaf kinds. Of/Matching are set only for the
// composite kinds.
type Finder struct {
	kind    Kind
	value   string
	isRegex bool // semanticsLabel only

	of             *Finder // composite kinds
	matching       *Finder
	matchRoot      bool
	firstMatchOnly bool
}

// Constructors. Finders are immutable once built.

func ByText(text string) Finder           { return Finder{kind: KindText, value: text} }
func ByID(id string) Finder               { return Finder{kind: KindID, value: id} }
func ByKey(key string) Finder             { return Finder{kind: KindKey, value: key} }
func ByType(typeName string) Finder       { return Finder{kind: KindType, value: typeName} }
func ByTooltip(tooltip string) Finder     { return Finder{kind: KindTooltip, value: tooltip} }
func BySemanticsLabel(label string, isRegex bool) Finder {
	return Finder{kind: KindSemanticsLabel, value: label, isRegex: isRegex}
}

// ByAncestor matches a widget that has an ancestor matching `of`.
func ByAncestor(of, matching Finder, matchRoot, firstMatchOnly bool) Finder {
	return Finder{kind: KindAncestor, of: &of, matching: &matching, matchRoot: matchRoot, firstMatchOnly: firstMatchOnly}
}

// ByDescendant matches a widget that has a descendant matching `of`.
func ByDescendant(of, matching Finder, matchRoot, firstMatchOnly bool) Finder {
	return Finder{kind: KindDescendant, of: &of, matching: &matching, matchRoot: matchRoot, firstMatchOnly: firstMatchOnly}
}

// Kind returns the finder's discriminating kind.
func (f Finder) Kind() Kind { return f.kind }

// Value returns the lookup term for leaf kinds.
func (f Finder) Value() string { return f.value }

// IsRegex reports whether a semanticsLabel finder matches as a regex.
func (f Finder) IsRegex() bool { return f.isRegex }

// Describe returns a short human-readable form for trace logs.
func (f Finder) Describe() string {
	switch f.kind {
	case KindAncestor, KindDescendant:
		return fmt.Sprintf("%s(of=%s, matching=%s)", f.kind, f.of.Describe(), f.matching.Describe())
	default:
		return fmt.Sprintf("%s=%q", f.kind, f.value)
	}
}

// reservedKeys are constraint-map keys that modify the lookup rather than
// discriminate it. They never select a variant.
var reservedKeys = map[string]bool{
	"first":   true,
	"index":   true,
	"backend": true,
	"timeout": true,
	"isRegex": true,
}

// Parse builds exactly one Finder from an untyped constraint map.
//
// Priority order when multiple keys are present:
// ancestor/descendant composites, then key > type > text > tooltip >
// semanticsLabel > id. The order is load-bearing: driver-only keys outrank the
// both-capable keys, and id comes last because it is accessibility-only.
func Parse(constraints map[string]interface{}) (Finder, error) {
	if v, ok := constraints["ancestor"]; ok {
		return parseComposite(KindAncestor, v)
	}
	if v, ok := constraints["descendant"]; ok {
		return parseComposite(KindDescendant, v)
	}

	if v, ok := stringValue(constraints, "key"); ok {
		return ByKey(v), nil
	}
	if v, ok := stringValue(constraints, "type"); ok {
		return ByType(v), nil
	}
	if v, ok := stringValue(constraints, "text"); ok {
		return ByText(v), nil
	}
	if v, ok := stringValue(constraints, "tooltip"); ok {
		return ByTooltip(v), nil
	}
	if v, ok := stringValue(constraints, "semanticsLabel"); ok {
		isRegex, _ := constraints["isRegex"].(bool)
		return BySemanticsLabel(v, isRegex), nil
	}
	if v, ok := stringValue(constraints, "id"); ok {
		return ByID(v), nil
	}
	// contentDescription is the accessibility-layer synonym for id lookups.
	if v, ok := stringValue(constraints, "contentDescription"); ok {
		return ByID(v), nil
	}

	return Finder{}, core.ErrInvalidFinder.WithDetails(map[string]interface{}{
		"constraints": keysOf(constraints),
	})
}

func parseComposite(kind Kind, raw interface{}) (Finder, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Finder{}, core.ErrInvalidFinder.WithMessage(fmt.Sprintf("%s must be an object", kind))
	}

	ofRaw, ok := m["of"].(map[string]interface{})
	if !ok {
		return Finder{}, core.ErrInvalidFinder.WithMessage(fmt.Sprintf("%s.of missing", kind))
	}
	matchingRaw, ok := m["matching"].(map[string]interface{})
	if !ok {
		return Finder{}, core.ErrInvalidFinder.WithMessage(fmt.Sprintf("%s.matching missing", kind))
	}

	of, err := Parse(ofRaw)
	if err != nil {
		return Finder{}, err
	}
	matching, err := Parse(matchingRaw)
	if err != nil {
		return Finder{}, err
	}

	matchRoot, _ := m["matchRoot"].(bool)
	firstOnly, _ := m["firstMatchOnly"].(bool)
	if kind == KindAncestor {
		return ByAncestor(of, matching, matchRoot, firstOnly), nil
	}
	return ByDescendant(of, matching, matchRoot, firstOnly), nil
}

// Serialize renders the Flutter Driver wire shape for the finder. Total for
// every variant; the selector guarantees the driver backend is never asked to
// run a variant it cannot express (only ByID falls in that set).
func (f Finder) Serialize() map[string]interface{} {
	switch f.kind {
	case KindKey:
		return map[string]interface{}{
			"finderType":     "ByValueKey",
			"keyValueString": f.value,
			"keyValueType":   "String",
		}
	case KindType:
		return map[string]interface{}{
			"finderType": "ByType",
			"type":       f.value,
		}
	case KindText:
		return map[string]interface{}{
			"finderType": "ByText",
			"text":       f.value,
		}
	case KindTooltip:
		return map[string]interface{}{
			"finderType": "ByTooltipMessage",
			"text":       f.value,
		}
	case KindSemanticsLabel:
		return map[string]interface{}{
			"finderType": "BySemanticsLabel",
			"label":      f.value,
			"isRegExp":   f.isRegex,
		}
	case KindAncestor, KindDescendant:
		finderType := "Ancestor"
		if f.kind == KindDescendant {
			finderType = "Descendant"
		}
		return map[string]interface{}{
			"finderType":     finderType,
			"of":             f.of.Serialize(),
			"matching":       f.matching.Serialize(),
			"matchRoot":      f.matchRoot,
			"firstMatchOnly": f.firstMatchOnly,
		}
	default:
		// KindID has no driver representation; the content-description lookup
		// lives entirely in the accessibility layer.
		return map[string]interface{}{
			"finderType": "ByText",
			"text":       f.value,
		}
	}
}

// Constraints renders the finder back into constraint-map form, the inverse of
// Parse for every kind.
func (f Finder) Constraints() map[string]interface{} {
	switch f.kind {
	case KindSemanticsLabel:
		return map[string]interface{}{"semanticsLabel": f.value, "isRegex": f.isRegex}
	case KindAncestor, KindDescendant:
		return map[string]interface{}{
			f.kind.String(): map[string]interface{}{
				"of":             f.of.Constraints(),
				"matching":       f.matching.Constraints(),
				"matchRoot":      f.matchRoot,
				"firstMatchOnly": f.firstMatchOnly,
			},
		}
	default:
		return map[string]interface{}{f.kind.String(): f.value}
	}
}

// Equal reports structural equality, used by round-trip tests.
func (f Finder) Equal(other Finder) bool {
	if f.kind != other.kind || f.value != other.value || f.isRegex != other.isRegex {
		return false
	}
	if f.matchRoot != other.matchRoot || f.firstMatchOnly != other.firstMatchOnly {
		return false
	}
	if (f.of == nil) != (other.of == nil) || (f.matching == nil) != (other.matching == nil) {
		return false
	}
	if f.of != nil && !f.of.Equal(*other.of) {
		return false
	}
	if f.matching != nil && !f.matching.Equal(*other.matching) {
		return false
	}
	return true
}

func stringValue(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func keysOf(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !reservedKeys[k] {
			keys = append(keys, k)
		}
	}
	return keys
}
