package model

import "time"

type FieldType string

const (
	FieldText           FieldType = "text"
	FieldTextarea       FieldType = "textarea"
	FieldEmail          FieldType = "email"
	FieldNumber         FieldType = "number"
	FieldPassword       FieldType = "password"
	FieldURL            FieldType = "url"
	FieldRadio          FieldType = "radio"
	FieldCheckbox       FieldType = "checkbox"
	FieldSelect         FieldType = "select"
	FieldDate           FieldType = "date"
	FieldFile           FieldType = "file"
	FieldRating         FieldType = "rating"
	FieldSlider         FieldType = "slider"
	FieldMatrix         FieldType = "matrix"
	FieldAIConversation FieldType = "ai_conversation"
)

var FieldTypes = []FieldType{
	FieldText, FieldTextarea, FieldEmail, FieldNumber, FieldPassword, FieldURL,
	FieldRadio, FieldCheckbox, FieldSelect, FieldDate, FieldFile, FieldRating,
	FieldSlider, FieldMatrix, FieldAIConversation,
}

func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if ft == t {
			return true
		}
	}
	return false
}

type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpContains  Operator = "contains"
)

type RuleType string

const (
	RuleMin     RuleType = "min"
	RuleMax     RuleType = "max"
	RuleEmail   RuleType = "email"
	RuleURL     RuleType = "url"
	RulePattern RuleType = "pattern"
)

type Form struct {
	ID          int          `json:"id,omitempty"`
	Version     int          `json:"version,omitempty"`
	Owner       string       `json:"-"`
	Title       string       `json:"title" validate:"required"`
	Description string       `json:"description,omitempty"`
	Fields      []FormField  `json:"fields"`
	Settings    FormSettings `json:"settings"`
	IsPublished bool         `json:"isPublished"`
}

type FormSettings struct {
	OneResponsePerIP bool   `json:"oneResponsePerIP,omitempty"`
	Conversational   bool   `json:"conversational,omitempty"`
	ThankYouMessage  string `json:"thankYouMessage,omitempty"`
}

type FormField struct {
	ID            string            `json:"id"`
	Type          FieldType         `json:"type"`
	Label         string            `json:"label"`
	Required      bool              `json:"required"`
	Options       []string          `json:"options,omitempty"`
	Validation    []ValidationRule  `json:"validation,omitempty"`
	AIEnabled     bool              `json:"aiEnabled,omitempty"`
	Conditional   *ConditionalLogic `json:"conditional,omitempty"`
	MatrixRows    []string          `json:"matrixRows,omitempty"`
	MatrixColumns []string          `json:"matrixColumns,omitempty"`
}

// AIAssisted reports whether answering the field goes through an AI sub-conversation.
func (f FormField) AIAssisted() bool {
	return f.AIEnabled && f.Type == FieldTextarea
}

type ConditionalLogic struct {
	ShowIf Condition `json:"showIf"`
}

type Condition struct {
	FieldID  string   `json:"fieldId"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

type ValidationRule struct {
	Type    RuleType `json:"type"`
	Value   any      `json:"value,omitempty"`
	Message string   `json:"message,omitempty"`
}

type Submission struct {
	ID              int              `json:"id"`
	FormID          int              `json:"formId"`
	Data            map[string]any   `json:"data"`
	CompletedAt     time.Time        `json:"completedAt"`
	TimeTaken       *int             `json:"timeTaken,omitempty"`
	IPAddress       string           `json:"ipAddress,omitempty"`
	Sentiment       string           `json:"sentiment,omitempty"`
	Problems        []Problem        `json:"problems,omitempty"`
	AIConversations []AIConversation `json:"aiConversations,omitempty"`
}

type Problem struct {
	ID                string   `json:"id"`
	Problem           string   `json:"problem"`
	Solutions         []string `json:"solutions"`
	Resolved          bool     `json:"resolved"`
	ResolutionComment string   `json:"resolutionComment,omitempty"`
}

// ProblemGroup is computed on every request and never persisted.
type ProblemGroup struct {
	Problem   string   `json:"problem"`
	Count     int      `json:"count"`
	IDs       []string `json:"ids"`
	Solutions []string `json:"solutions"`
}

// ProblemMention is one (description, submission) pair fed to ranking.
type ProblemMention struct {
	Problem      string `json:"problem"`
	SubmissionID string `json:"submissionId"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type AIMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type AIConversation struct {
	ID           string      `json:"id"`
	SubmissionID int         `json:"submissionId,omitempty"`
	FieldID      string      `json:"fieldId"`
	Messages     []AIMessage `json:"messages"`
	CreatedAt    time.Time   `json:"createdAt"`
}
