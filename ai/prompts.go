package ai

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/mbolis/intelliform/config"
)

const defaultChatPrompt = `You are helping a respondent answer one question of an online form.
The question is the first message of the conversation below. Ask short follow-up
questions until you understand the respondent's answer well enough to summarize it,
then thank them and finish.

Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}user: {{.Message}}

Reply with a single JSON object and nothing else:
{"content": "<your reply to the respondent>", "conversationFinished": <true when you have enough information, else false>}`

const defaultSummarizePrompt = `Summarize the respondent's answer in the conversation below in exactly one
sentence written in the third person. Reply with the sentence only.

{{.Transcript}}`

const defaultExtractPrompt = `Read this form submission and list every distinct problem the respondent
reports. Split compound complaints into separate atomic problems. Do not invent
problems; return an empty list when none are reported. For each problem suggest
one to three concrete solutions. Also classify the overall sentiment.

Submission:
{{.Submission}}

Reply with a single JSON object and nothing else:
{"sentiment": "positive|neutral|negative", "problems": [{"problem": "<short description>", "solutions": ["<solution>"]}]}`

const defaultRankPrompt = `Below is a JSON list of problems reported in form submissions, each with the id
of the submission that reported it. Merge descriptions of exactly the same specific
issue into one group with a short canonical name. Do not merge issues that are only
related or share a broad category: "paperwork problems" and "office tour problems"
during onboarding are two different groups.

For each group give the canonical name, the ids of all submissions that reported it
(each id at most once), count equal to the number of ids, and one to three actionable
solutions.

Problems:
{{json .Mentions}}

Reply with a JSON array and nothing else:
[{"problem": "<canonical name>", "count": <n>, "ids": ["<submission id>"], "solutions": ["<solution>"]}]`

type prompts struct {
	chat      *template.Template
	summarize *template.Template
	extract   *template.Template
	rank      *template.Template
}

var funcs = template.FuncMap{
	"json": func(v any) (string, error) {
		b, err := json.MarshalIndent(v, "", "  ")
		return string(b), err
	},
}

func parsePrompts(override config.Prompts) (p prompts, err error) {
	pick := func(custom, def string) string {
		if strings.TrimSpace(custom) != "" {
			return custom
		}
		return def
	}

	if p.chat, err = template.New("chat").Funcs(funcs).Parse(pick(override.Chat, defaultChatPrompt)); err != nil {
		return p, fmt.Errorf("chat prompt: %w", err)
	}
	if p.summarize, err = template.New("summarize").Funcs(funcs).Parse(pick(override.Summarize, defaultSummarizePrompt)); err != nil {
		return p, fmt.Errorf("summarize prompt: %w", err)
	}
	if p.extract, err = template.New("extract").Funcs(funcs).Parse(pick(override.Extract, defaultExtractPrompt)); err != nil {
		return p, fmt.Errorf("extract prompt: %w", err)
	}
	if p.rank, err = template.New("rank").Funcs(funcs).Parse(pick(override.Rank, defaultRankPrompt)); err != nil {
		return p, fmt.Errorf("rank prompt: %w", err)
	}
	return p, nil
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}
