// Package template renders prompt templates. Placeholders use the ${name}
// form; names may be dotted paths into nested maps (${input.language}).
// Strings are inserted verbatim, other values as compact JSON.
//
//	out, err := template.NewExpander(template.WithMissingAction(template.MissingError)).
//	    Expand("Classify ${doc_id} for ${input.crop}", vars)
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\}`)

// MissingAction decides what happens to placeholders without a value.
type MissingAction int

const (
	// MissingKeep leaves the placeholder in place.
	MissingKeep MissingAction = iota
	// MissingEmpty replaces it with "".
	MissingEmpty
	// MissingError fails the expansion.
	MissingError
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how missing variables are handled. Default: MissingKeep.
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missing = action
	}
}

// Expander renders templates. Safe for concurrent use.
type Expander struct {
	missing MissingAction
}

// NewExpander creates an Expander.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missing: MissingKeep}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand substitutes every placeholder in s from vars.
func (e *Expander) Expand(s string, vars map[string]any) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := resolve(vars, name); ok {
			return format(v)
		}
		switch e.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// Variables lists the placeholder names in s, in order of appearance,
// without duplicates.
func Variables(s string) []string {
	var names []string
	seen := map[string]bool{}
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

func resolve(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}

	var cur any = vars
	for part := range strings.SplitSeq(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func format(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case json.RawMessage:
		return string(val)
	case int, int64, float64, bool:
		return fmt.Sprint(val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// UndefinedVariableError lists placeholders that had no value.
type UndefinedVariableError struct {
	Names []string
}

func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined variables: %s", strings.Join(e.Names, ", "))
}

var defaultExpander = NewExpander()

// Expand renders s with the default expander; missing variables are kept.
func Expand(s string, vars map[string]any) string {
	out, _ := defaultExpander.Expand(s, vars)
	return out
}
