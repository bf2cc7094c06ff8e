package sequencer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbolis/intelliform/ai"
	"github.com/mbolis/intelliform/apperr"
	"github.com/mbolis/intelliform/model"
)

type Mode int

const (
	ModeStandard Mode = iota
	ModeAIChat
)

func (m Mode) String() string {
	switch m {
	case ModeStandard:
		return "STANDARD"
	case ModeAIChat:
		return "AI_CHAT"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "STANDARD":
		*m = ModeStandard
	case "AI_CHAT":
		*m = ModeAIChat
	default:
		return fmt.Errorf("unknown mode %q", text)
	}
	return nil
}

type Status int

const (
	NotSubmitted Status = iota
	Submitted
)

// Assistant is the AI capability a session needs.
type Assistant interface {
	Chat(ctx context.Context, message string, history []model.AIMessage) (ai.ChatReply, error)
	Summarize(ctx context.Context, transcript string) (string, error)
}

// SubmissionWriter persists a finished session.
type SubmissionWriter interface {
	CreateSubmission(ctx context.Context, sub model.Submission) (int, error)
}

// chatState exists only while the session is in ModeAIChat.
type chatState struct {
	anchor int
	record model.AIConversation
	turns  int
}

type Options struct {
	// MaxTurns caps the respondent messages of one AI sub-conversation.
	MaxTurns int
	// ChatContext is how many trailing messages, besides the question, are sent
	// with each chat turn.
	ChatContext int
	IPAddress   string
	Now         func() time.Time
	// OnSubmitted runs once, right after the submission is stored.
	OnSubmitted func(submissionID int)
}

type Session struct {
	ID string

	mu sync.Mutex

	form   model.Form
	ai     Assistant
	writer SubmissionWriter
	opts   Options

	answers map[string]any
	log     []model.AIMessage
	active  int // index into form.Fields, -1 when none
	cursor  int // fields before cursor are never considered again
	mode    Mode
	chat    *chatState

	status        Status
	submissionID  int
	conversations []model.AIConversation
	startedAt     time.Time
}

// View is the client-visible state of a session.
type View struct {
	SessionID    string            `json:"sessionId"`
	FormID       int               `json:"formId"`
	Mode         Mode              `json:"mode"`
	ActiveField  *model.FormField  `json:"activeField"`
	Conversation []model.AIMessage `json:"conversation"`
	Answered     int               `json:"answered"`
	Submitted    bool              `json:"submitted"`
	SubmissionID int               `json:"submissionId,omitempty"`
	ThankYou     string            `json:"thankYouMessage,omitempty"`
}

var (
	errAlreadySubmitted = apperr.NewConflict("session.already_submitted", "this form has already been submitted")
	errChatRequired     = apperr.NewValidation("session.chat_required", "this question is answered through the conversation")
	errNotChatField     = apperr.NewValidation("session.not_chat_field", "the current question does not use a conversation")
	errEmptyMessage     = apperr.NewValidation("session.empty_message", "message is required")
	errNotComplete      = apperr.NewConflict("session.incomplete", "there are unanswered questions")
)

// NewSession starts walking form and activates its first field, which may
// immediately enter AI chat mode.
func NewSession(form model.Form, assistant Assistant, writer SubmissionWriter, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ChatContext <= 0 {
		opts.ChatContext = 20
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 10
	}

	s := &Session{
		ID:        uuid.NewString(),
		form:      form,
		ai:        assistant,
		writer:    writer,
		opts:      opts,
		answers:   map[string]any{},
		active:    -1,
		mode:      ModeStandard,
		startedAt: opts.Now(),
	}
	s.activate(nextIndex(s.answers, s.form.Fields, 0))
	return s
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func (s *Session) view() View {
	v := View{
		SessionID:    s.ID,
		FormID:       s.form.ID,
		Mode:         s.mode,
		Conversation: append([]model.AIMessage(nil), s.log...),
		Answered:     len(s.answers),
		Submitted:    s.status == Submitted,
		SubmissionID: s.submissionID,
	}
	if s.active >= 0 {
		f := s.form.Fields[s.active]
		v.ActiveField = &f
	}
	if v.Submitted {
		v.ThankYou = s.form.Settings.ThankYouMessage
	}
	return v
}

// Answers returns a copy of the answers gathered so far.
func (s *Session) Answers() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

func (s *Session) activeField() (model.FormField, bool) {
	if s.active < 0 {
		return model.FormField{}, false
	}
	return s.form.Fields[s.active], true
}

// activate makes fields[i] the active field; -1 means none is left.
func (s *Session) activate(i int) {
	s.active = i
	if i < 0 {
		return
	}
	s.cursor = i + 1
	if s.form.Fields[i].AIAssisted() {
		s.enterAIChat(true)
	}
}

// SubmitAnswer answers the active field of a STANDARD-mode session. A failing
// validation leaves the session untouched.
func (s *Session) SubmitAnswer(ctx context.Context, fieldID string, value any) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Submitted {
		return s.view(), errAlreadySubmitted
	}

	switch s.mode {
	case ModeAIChat:
		return s.view(), errChatRequired
	case ModeStandard:
		field, ok := s.activeField()
		if !ok {
			err := s.finalize(ctx)
			return s.view(), err
		}
		if fieldID != "" && fieldID != field.ID {
			return s.view(), apperr.NewValidation("session.not_active", fmt.Sprintf("field %q is not the current question", fieldID))
		}
		if field.AIAssisted() {
			return s.view(), errChatRequired
		}
		if err := ValidateAnswer(field, value); err != nil {
			return s.view(), err
		}

		s.log = append(s.log,
			model.AIMessage{Role: model.RoleSystem, Content: field.Label},
			model.AIMessage{Role: model.RoleUser, Content: renderAnswer(value)},
		)
		err := s.commit(ctx, field, value)
		return s.view(), err
	default:
		panic(fmt.Sprintf("sequencer: unhandled mode %s", s.mode))
	}
}

// commit merges an accepted answer and moves to the next field, finalizing
// the submission when none is left.
func (s *Session) commit(ctx context.Context, field model.FormField, value any) error {
	s.answers[field.ID] = value
	s.activate(nextIndex(s.answers, s.form.Fields, s.cursor))
	if s.active < 0 {
		return s.finalize(ctx)
	}
	return nil
}

// SendMessage runs one AI sub-conversation turn. In STANDARD mode on an
// AI-assisted field (after a failed turn) it re-enters AI chat first.
func (s *Session) SendMessage(ctx context.Context, message string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Submitted {
		return s.view(), errAlreadySubmitted
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return s.view(), errEmptyMessage
	}

	switch s.mode {
	case ModeStandard:
		field, ok := s.activeField()
		if !ok || !field.AIAssisted() {
			return s.view(), errNotChatField
		}
		s.enterAIChat(false)
		err := s.chatTurn(ctx, field, message)
		return s.view(), err
	case ModeAIChat:
		field, _ := s.activeField()
		err := s.chatTurn(ctx, field, message)
		return s.view(), err
	default:
		panic(fmt.Sprintf("sequencer: unhandled mode %s", s.mode))
	}
}

// enterAIChat is the STANDARD -> AI_CHAT transition.
func (s *Session) enterAIChat(pushLabel bool) {
	field := s.form.Fields[s.active]
	question := model.AIMessage{Role: model.RoleSystem, Content: field.Label}
	if pushLabel {
		s.log = append(s.log, question)
	}
	s.mode = ModeAIChat
	s.chat = &chatState{
		anchor: len(s.log),
		record: model.AIConversation{
			ID:        uuid.NewString(),
			FieldID:   field.ID,
			Messages:  []model.AIMessage{question},
			CreatedAt: s.opts.Now(),
		},
	}
}

// rollbackAIChat is the AI_CHAT -> STANDARD transition on failure: the partial
// exchange is dropped and the field stays unanswered.
func (s *Session) rollbackAIChat() {
	s.log = s.log[:s.chat.anchor]
	s.chat = nil
	s.mode = ModeStandard
}

// exitAIChat is the AI_CHAT -> STANDARD transition on completion: everything
// after the anchor collapses into the summary, which becomes the answer.
func (s *Session) exitAIChat(ctx context.Context, field model.FormField, summary string) error {
	s.log = append(s.log[:s.chat.anchor], model.AIMessage{Role: model.RoleUser, Content: summary})
	s.conversations = append(s.conversations, s.chat.record)
	s.chat = nil
	s.mode = ModeStandard
	return s.commit(ctx, field, summary)
}

func (s *Session) chatTurn(ctx context.Context, field model.FormField, message string) error {
	history := s.chatHistory()
	userMsg := model.AIMessage{Role: model.RoleUser, Content: message}
	s.log = append(s.log, userMsg)
	s.chat.record.Messages = append(s.chat.record.Messages, userMsg)
	s.chat.turns++

	reply, err := s.ai.Chat(ctx, message, history)
	if err != nil {
		s.rollbackAIChat()
		return err
	}
	assistantMsg := model.AIMessage{Role: model.RoleAssistant, Content: reply.Content}
	s.log = append(s.log, assistantMsg)
	s.chat.record.Messages = append(s.chat.record.Messages, assistantMsg)

	if !reply.ConversationFinished && s.chat.turns < s.opts.MaxTurns {
		return nil
	}

	summary, err := s.ai.Summarize(ctx, s.transcript(field))
	if err != nil {
		s.rollbackAIChat()
		return err
	}
	return s.exitAIChat(ctx, field, summary)
}

// chatHistory is the question followed by the most recent messages of the
// sub-conversation.
func (s *Session) chatHistory() []model.AIMessage {
	exchange := s.log[s.chat.anchor:]
	if len(exchange) > s.opts.ChatContext {
		exchange = exchange[len(exchange)-s.opts.ChatContext:]
	}
	history := make([]model.AIMessage, 0, len(exchange)+1)
	history = append(history, s.chat.record.Messages[0])
	return append(history, exchange...)
}

func (s *Session) transcript(field model.FormField) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(field.Label)
	sb.WriteString("\n")
	for _, m := range s.log[s.chat.anchor:] {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Finalize writes the submission of a completed session. It succeeds at most
// once per session.
func (s *Session) Finalize(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.finalize(ctx)
	return s.view(), err
}

func (s *Session) finalize(ctx context.Context) error {
	if s.status == Submitted {
		return errAlreadySubmitted
	}
	if s.active >= 0 {
		return errNotComplete
	}

	data := make(map[string]any, len(s.answers))
	for k, v := range s.answers {
		data[k] = v
	}
	taken := int(s.opts.Now().Sub(s.startedAt).Seconds())

	id, err := s.writer.CreateSubmission(ctx, model.Submission{
		FormID:          s.form.ID,
		Data:            data,
		CompletedAt:     s.opts.Now(),
		TimeTaken:       &taken,
		IPAddress:       s.opts.IPAddress,
		AIConversations: s.conversations,
	})
	if err != nil {
		return err
	}
	s.status = Submitted
	s.submissionID = id
	if s.opts.OnSubmitted != nil {
		s.opts.OnSubmitted(id)
	}
	return nil
}

// SubmissionID is 0 until the session is submitted.
func (s *Session) SubmissionID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissionID
}

func renderAnswer(value any) string {
	switch v := value.(type) {
	case []any, []string:
		return strings.ReplaceAll(stringify(v), ",", ", ")
	}
	return stringify(value)
}
