package sequencer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

var validate = validator.New()

const (
	msgRequired = "This field is required"
	msgEmail    = "Please enter a valid email address"
	msgURL      = "Please enter a valid URL"
	msgNumber   = "Please enter a number"
	msgOption   = "Please choose one of the available options"
	msgPattern  = "Please match the requested format"
)

func invalid(field model.FormField, msg string) error {
	return apperr.NewValidation("answer.invalid."+field.ID, msg)
}

// ValidateAnswer checks value against the field: required first, then each
// rule in order, then the check implied by the field type unless a rule of the
// same kind already covered it. The first failure wins and its message is the
// rule's own when the rule has one.
func ValidateAnswer(field model.FormField, value any) error {
	if isEmpty(value) {
		if field.Required {
			return invalid(field, msgRequired)
		}
		return nil
	}

	covered := false
	for _, rule := range field.Validation {
		if err := checkRule(field, rule, value); err != nil {
			return err
		}
		covered = covered || coversType(field, rule)
	}
	if covered {
		return nil
	}
	return checkType(field, value)
}

// coversType reports whether rule performs the check implied by the field type.
func coversType(field model.FormField, rule model.ValidationRule) bool {
	switch field.Type {
	case model.FieldEmail:
		return rule.Type == model.RuleEmail
	case model.FieldURL:
		return rule.Type == model.RuleURL
	case model.FieldNumber, model.FieldRating, model.FieldSlider:
		return rule.Type == model.RuleMin || rule.Type == model.RuleMax
	}
	return false
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func checkType(field model.FormField, value any) error {
	switch field.Type {
	case model.FieldEmail:
		if validate.Var(stringify(value), "email") != nil {
			return invalid(field, msgEmail)
		}
	case model.FieldURL:
		if validate.Var(stringify(value), "url") != nil {
			return invalid(field, msgURL)
		}
	case model.FieldNumber, model.FieldRating, model.FieldSlider:
		if _, ok := number(value); !ok {
			return invalid(field, msgNumber)
		}
	case model.FieldRadio, model.FieldSelect:
		if len(field.Options) > 0 && !inOptions(field.Options, stringify(value)) {
			return invalid(field, msgOption)
		}
	case model.FieldCheckbox:
		if len(field.Options) > 0 {
			for _, item := range items(value) {
				if !inOptions(field.Options, item) {
					return invalid(field, msgOption)
				}
			}
		}
	}
	return nil
}

func checkRule(field model.FormField, rule model.ValidationRule, value any) error {
	message := func(def string) string {
		if rule.Message != "" {
			return rule.Message
		}
		return def
	}

	switch rule.Type {
	case model.RuleMin, model.RuleMax:
		limit, ok := number(rule.Value)
		if !ok {
			return nil
		}
		size, ok := measure(field, value)
		if !ok {
			return invalid(field, message(msgNumber))
		}
		if rule.Type == model.RuleMin && size < limit {
			return invalid(field, message(fmt.Sprintf("Must be at least %s", stringify(rule.Value))))
		}
		if rule.Type == model.RuleMax && size > limit {
			return invalid(field, message(fmt.Sprintf("Must be at most %s", stringify(rule.Value))))
		}
	case model.RuleEmail:
		if validate.Var(stringify(value), "email") != nil {
			return invalid(field, message(msgEmail))
		}
	case model.RuleURL:
		if validate.Var(stringify(value), "url") != nil {
			return invalid(field, message(msgURL))
		}
	case model.RulePattern:
		re, err := regexp.Compile(stringify(rule.Value))
		if err != nil || !re.MatchString(stringify(value)) {
			return invalid(field, message(msgPattern))
		}
	}
	return nil
}

// measure is the numeric value for numeric fields, the item count for lists
// and the length in characters otherwise. It fails only on a numeric field
// holding something that is not a number.
func measure(field model.FormField, value any) (float64, bool) {
	switch field.Type {
	case model.FieldNumber, model.FieldRating, model.FieldSlider:
		return number(value)
	}
	switch v := value.(type) {
	case []any:
		return float64(len(v)), true
	case []string:
		return float64(len(v)), true
	}
	return float64(utf8.RuneCountInString(stringify(value))), true
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return n, err == nil
	}
	return 0, false
}

func items(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, len(x))
		for i, item := range x {
			out[i] = stringify(item)
		}
		return out
	case []string:
		return x
	}
	return []string{stringify(v)}
}

func inOptions(options []string, v string) bool {
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
