// Package sequencer walks a form one field at a time: it decides which field
// comes next, validates answers, and runs the AI sub-conversation of
// AI-assisted fields.
package sequencer

import (
	"strconv"
	"strings"

	"github.com/mbolis/intelliform/model"
)

// NextField returns the first field, in declared order, that has no answer and
// whose conditional holds against answers. nil means the form is complete.
// It is a pure function of its arguments.
func NextField(answers map[string]any, fields []model.FormField) *model.FormField {
	if i := nextIndex(answers, fields, 0); i >= 0 {
		return &fields[i]
	}
	return nil
}

// nextIndex scans fields[from:] and returns the index of the next field to ask,
// or -1.
func nextIndex(answers map[string]any, fields []model.FormField, from int) int {
	for i := from; i < len(fields); i++ {
		f := fields[i]
		if _, answered := answers[f.ID]; answered {
			continue
		}
		if !Visible(f.Conditional, answers) {
			continue
		}
		return i
	}
	return -1
}

// Visible evaluates a conditional against the answers gathered so far. A
// condition on an unanswered field is false.
func Visible(cond *model.ConditionalLogic, answers map[string]any) bool {
	if cond == nil {
		return true
	}
	answer, ok := answers[cond.ShowIf.FieldID]
	if !ok {
		return false
	}

	switch cond.ShowIf.Operator {
	case model.OpEquals:
		return equals(answer, cond.ShowIf.Value)
	case model.OpNotEquals:
		return !equals(answer, cond.ShowIf.Value)
	case model.OpContains:
		return contains(answer, cond.ShowIf.Value)
	default:
		return false
	}
}

func equals(answer, want any) bool {
	return stringify(answer) == stringify(want)
}

func contains(answer, want any) bool {
	needle := stringify(want)
	switch a := answer.(type) {
	case []any:
		for _, item := range a {
			if stringify(item) == needle {
				return true
			}
		}
		return false
	case []string:
		for _, item := range a {
			if item == needle {
				return true
			}
		}
		return false
	}
	return strings.Contains(stringify(answer), needle)
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = stringify(item)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(x, ",")
	case map[string]any:
		keys := sortedKeys(x)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + stringify(x[k])
		}
		return strings.Join(parts, ",")
	}
	return ""
}
