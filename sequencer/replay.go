package sequencer

import (
	"sort"

	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

// Replay checks a complete answer set submitted in one request by walking the
// fields exactly as a conversational session would. It returns the answers of
// the presented fields; an answer for a field that would have been skipped is
// an error.
func Replay(fields []model.FormField, data map[string]any) (map[string]any, error) {
	answers := make(map[string]any, len(data))
	for cursor := 0; ; {
		i := nextIndex(answers, fields, cursor)
		if i < 0 {
			break
		}
		f := fields[i]
		value := data[f.ID]
		if err := ValidateAnswer(f, value); err != nil {
			return nil, err
		}
		answers[f.ID] = value
		cursor = i + 1
	}

	var unexpected []string
	for id := range data {
		if _, ok := answers[id]; !ok {
			unexpected = append(unexpected, id)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, apperr.NewValidation("answer.unexpected", "unexpected answer for field "+unexpected[0])
	}
	return answers, nil
}
