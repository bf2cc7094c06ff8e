package sequencer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

var reNoIdent = regexp.MustCompile(`\W+`)

// AssignFieldIDs gives every field without an id one derived from its label,
// in snake_case, suffixed with __N when the name is already taken.
func AssignFieldIDs(fields []model.FormField) {
	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f.ID != "" {
			taken[f.ID] = true
		}
	}

	for i := range fields {
		if fields[i].ID != "" {
			continue
		}
		name := strings.ToLower(fields[i].Label)
		name = reNoIdent.ReplaceAllLiteralString(name, " ")
		name = strings.Join(strings.Fields(name), "_")
		if name == "" {
			name = "field"
		}

		id := name
		for n := 1; taken[id]; n++ {
			id = fmt.Sprintf("%s__%d", name, n)
		}
		taken[id] = true
		fields[i].ID = id
	}
}

func definitionErr(msg string, args ...any) error {
	return apperr.NewValidation("form.invalid", fmt.Sprintf(msg, args...))
}

// ValidateForm rejects definitions the sequencer cannot walk: duplicate ids,
// unknown types, and conditionals that do not point at an earlier field.
func ValidateForm(form model.Form) error {
	if strings.TrimSpace(form.Title) == "" {
		return definitionErr("title is required")
	}

	position := make(map[string]int, len(form.Fields))
	for i, f := range form.Fields {
		if f.ID == "" {
			return definitionErr("field %d has no id", i+1)
		}
		if _, dup := position[f.ID]; dup {
			return definitionErr("duplicate field id %q", f.ID)
		}
		if !f.Type.Valid() {
			return definitionErr("field %q has unknown type %q", f.ID, f.Type)
		}
		if strings.TrimSpace(f.Label) == "" {
			return definitionErr("field %q has no label", f.ID)
		}
		if f.AIEnabled && f.Type != model.FieldTextarea {
			return definitionErr("field %q: only textarea fields can be AI-enabled", f.ID)
		}
		switch f.Type {
		case model.FieldRadio, model.FieldSelect, model.FieldCheckbox:
			if len(f.Options) == 0 {
				return definitionErr("field %q needs options", f.ID)
			}
		case model.FieldMatrix:
			if len(f.MatrixRows) == 0 || len(f.MatrixColumns) == 0 {
				return definitionErr("field %q needs matrix rows and columns", f.ID)
			}
		}

		if c := f.Conditional; c != nil {
			// position only holds fields seen so far
			if _, ok := position[c.ShowIf.FieldID]; !ok {
				return definitionErr("field %q: condition must reference an earlier field, got %q", f.ID, c.ShowIf.FieldID)
			}
			switch c.ShowIf.Operator {
			case model.OpEquals, model.OpNotEquals, model.OpContains:
			default:
				return definitionErr("field %q: unknown operator %q", f.ID, c.ShowIf.Operator)
			}
		}

		for _, rule := range f.Validation {
			switch rule.Type {
			case model.RuleMin, model.RuleMax:
				if _, ok := number(rule.Value); !ok {
					return definitionErr("field %q: %s rule needs a numeric value", f.ID, rule.Type)
				}
			case model.RulePattern:
				if _, err := regexp.Compile(stringify(rule.Value)); err != nil {
					return definitionErr("field %q: invalid pattern: %s", f.ID, err)
				}
			case model.RuleEmail, model.RuleURL:
			default:
				return definitionErr("field %q: unknown validation rule %q", f.ID, rule.Type)
			}
		}

		position[f.ID] = i
	}
	return nil
}
