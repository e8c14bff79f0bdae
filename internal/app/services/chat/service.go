// Package chat implements conversations and the assistant message loop:
// every user message is parsed into an intent and dispatched to module
// creation, UI generation, data access or plain conversation.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/services/modules"
	"github.com/appforge-labs/appforge/internal/app/storage"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/internal/llm"
	"github.com/appforge-labs/appforge/pkg/logger"
)

// Chat replies for flows that end without a successful operation. The
// frontend renders these verbatim, so the wording is part of the API.
const (
	welcomeGeneric = "Welcome! I can help you create and manage custom applications. What would you like to build today?"

	replyModuleCreateFailed  = "I'm sorry, I couldn't create the module. Please try again with more details."
	replyModuleCreateError   = "I encountered an error while trying to create the module. Please try again with more specific details."
	replyUIModuleMissing     = "I couldn't find the module you're referring to. Which module would you like to create a UI for?"
	replyUIFailed            = "I'm sorry, I couldn't create the UI for this module. Please try again."
	replyQueryModuleMissing  = "I couldn't find the module you're referring to. Which module's data would you like to query?"
	replyQueryError          = "I encountered an error while trying to query the data. Please try again with more specific details."
	replyNoTables            = "This module doesn't have any tables yet. Would you like to create one?"
	replyInsertModuleMissing = "I couldn't find the module you're referring to. Which module would you like to add data to?"
	replyInsertNoData        = "What data would you like to insert into the table?"
	replyInsertFailed        = "I'm sorry, I couldn't add the data to the table. There might be an issue with the data format or table structure.\n\nCould you provide the data in a more structured way?"
	replyGeneralError        = "I'm sorry, I encountered an error while processing your request."
)

const (
	maxClarifyingQuestions = 3
	historyLimit           = 10
	schemaSummaryMaxFields = 10
)

// Publisher pushes message events to live conversation subscribers. A nil
// publisher drops events.
type Publisher interface {
	Publish(conversationID string, event interface{})
}

// MessageEvent is the payload pushed to conversation subscribers.
type MessageEvent struct {
	Type    string               `json:"type"`
	Message conversation.Message `json:"message"`
}

// Reply is the outcome of processing one user message.
type Reply struct {
	Message conversation.Message  `json:"message"`
	Actions []conversation.Action `json:"actions"`
	Intent  string                `json:"intent"`
}

// Service manages conversations and drives the assistant loop.
type Service struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	modules       *modules.Service
	assistant     *llm.Assistant
	publisher     Publisher
	log           *logger.Logger
}

// New creates a chat service. The publisher may be nil.
func New(conversations storage.ConversationStore, messages storage.MessageStore, modulesSvc *modules.Service, assistant *llm.Assistant, publisher Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	return &Service{
		conversations: conversations,
		messages:      messages,
		modules:       modulesSvc,
		assistant:     assistant,
		publisher:     publisher,
		log:           log,
	}
}

// CreateConversation opens a thread for the user and seeds the system
// welcome message. An empty title gets a timestamped default; a module ID
// links the thread to that module.
func (s *Service) CreateConversation(ctx context.Context, userID, title, moduleID string) (conversation.Conversation, error) {
	var linked module.Module
	if moduleID != "" {
		mod, err := s.modules.Get(ctx, userID, moduleID)
		if err != nil {
			return conversation.Conversation{}, err
		}
		linked = mod
	}

	if strings.TrimSpace(title) == "" {
		title = "New Conversation " + time.Now().Format("2006-01-02 15:04")
	}

	conv, err := s.conversations.CreateConversation(ctx, conversation.Conversation{
		UserID:   userID,
		Title:    title,
		IsActive: true,
		ModuleID: moduleID,
	})
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	welcome := welcomeGeneric
	if linked.ID != "" {
		welcome = fmt.Sprintf("This conversation is specifically about the '%s' module.", linked.Name)
	}
	if _, err := s.messages.CreateMessage(ctx, conversation.Message{
		ConversationID: conv.ID,
		Role:           conversation.RoleSystem,
		Content:        welcome,
	}); err != nil {
		s.log.WithError(err).WithField("conversation_id", conv.ID).Warn("could not seed welcome message")
	}

	s.log.WithFields(logger.Fields{"conversation_id": conv.ID, "user_id": userID}).Info("created conversation")
	return conv, nil
}

// Get returns one of the user's conversations.
func (s *Service) Get(ctx context.Context, userID, id string) (conversation.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil || conv.UserID != userID {
		return conversation.Conversation{}, apperrors.NotFound("Conversation")
	}
	return conv, nil
}

// List returns the user's conversations, most recently active first.
func (s *Service) List(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	convs, err := s.conversations.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// Messages returns a conversation's messages in order.
func (s *Service) Messages(ctx context.Context, userID, conversationID string) ([]conversation.Message, error) {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// UpdateInput patches a conversation. Nil fields are left unchanged; an
// empty ModuleID unlinks the module.
type UpdateInput struct {
	Title    *string
	IsActive *bool
	ModuleID *string
}

// Update patches the conversation's title, active flag or module link.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (conversation.Conversation, error) {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return conversation.Conversation{}, err
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return conversation.Conversation{}, apperrors.InvalidRequest("title cannot be empty")
		}
		conv.Title = title
	}
	if in.IsActive != nil {
		conv.IsActive = *in.IsActive
	}
	if in.ModuleID != nil {
		if *in.ModuleID == "" {
			conv.ModuleID = ""
		} else {
			mod, err := s.modules.Get(ctx, userID, *in.ModuleID)
			if err != nil {
				return conversation.Conversation{}, err
			}
			conv.ModuleID = mod.ID
		}
	}

	updated, err := s.conversations.UpdateConversation(ctx, conv)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	return updated, nil
}

// Delete removes the conversation and its messages.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	conv, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.conversations.DeleteConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	s.log.WithField("conversation_id", conv.ID).Info("deleted conversation")
	return nil
}

// ProcessMessage appends the user message, interprets it and appends the
// assistant's reply. A pending clarification flow consumes the message as
// its answer instead of re-parsing the intent.
func (s *Service) ProcessMessage(ctx context.Context, userID, conversationID, content string) (Reply, error) {
	if strings.TrimSpace(content) == "" {
		return Reply{}, apperrors.InvalidRequest("message content is required")
	}
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return Reply{}, err
	}

	userMsg, err := s.messages.CreateMessage(ctx, conversation.Message{
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Content:        content,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("store user message: %w", err)
	}
	s.publish(conv.ID, userMsg)

	var intent conversation.Intent
	switch {
	case conv.Context.PendingModule != nil:
		pending := conv.Context.PendingModule
		intent = conversation.Intent{
			Intent:      conversation.IntentCreateModule,
			ModuleName:  pending.ModuleName,
			Description: pending.Description + "\n\nAdditional information: " + content,
			Parameters:  conversation.Parameters{ModuleType: pending.ModuleType},
		}
	case conv.Context.PendingUI != nil:
		pending := conv.Context.PendingUI
		intent = conversation.Intent{
			Intent:      conversation.IntentCreateUI,
			ModuleName:  pending.ModuleName,
			Description: pending.Description + "\n\nAdditional UI preferences: " + content,
		}
	default:
		intent = s.assistant.ParseIntent(ctx, content, conv.Context)
	}

	replyContent, actions := s.dispatch(ctx, &conv, intent)

	assistantMsg, err := s.messages.CreateMessage(ctx, conversation.Message{
		ConversationID: conv.ID,
		Role:           conversation.RoleAssistant,
		Content:        replyContent,
		Actions:        actions,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("store assistant message: %w", err)
	}
	s.publish(conv.ID, assistantMsg)

	if _, err := s.conversations.UpdateConversation(ctx, conv); err != nil {
		s.log.WithError(err).WithField("conversation_id", conv.ID).Warn("could not update conversation")
	}

	return Reply{Message: assistantMsg, Actions: actions, Intent: intent.Intent}, nil
}

// dispatch routes an intent to its handler. Handlers mutate the conversation
// (context flow state, module link); the caller persists it afterwards.
func (s *Service) dispatch(ctx context.Context, conv *conversation.Conversation, intent conversation.Intent) (string, []conversation.Action) {
	switch intent.Intent {
	case conversation.IntentCreateModule:
		return s.handleCreateModule(ctx, conv, intent)
	case conversation.IntentCreateUI:
		return s.handleCreateUI(ctx, conv, intent)
	case conversation.IntentQueryData:
		return s.handleQueryData(ctx, conv, intent)
	case conversation.IntentInsertData:
		return s.handleInsertData(ctx, conv, intent)
	default:
		return s.handleGeneral(ctx, conv)
	}
}

func (s *Service) handleCreateModule(ctx context.Context, conv *conversation.Conversation, intent conversation.Intent) (string, []conversation.Action) {
	moduleName := intent.ModuleName
	if moduleName == "" {
		moduleName = "New Module"
	}
	description := intent.Description
	moduleType := intent.Parameters.ModuleType
	if moduleType == "" {
		moduleType = module.TypeCustom
	}

	questionCount := conv.Context.QuestionCount
	analysis := s.assistant.AnalyzeRequest(ctx, description, questionCount)

	if !analysis.ReadyToProceed && questionCount < maxClarifyingQuestions && len(analysis.ClarifyingQuestions) > 0 {
		conv.Context.QuestionCount = questionCount + 1
		conv.Context.PendingModule = &conversation.PendingModule{
			ModuleName:    moduleName,
			Description:   description,
			ModuleType:    moduleType,
			Understanding: analysis.Understanding,
		}
		return fmt.Sprintf(
			"I understand you want to create a module for %s. Here's what I understand so far:\n\n%s\n\nBefore I create this module, I have a quick question:\n\n- %s\n\nOnce I have this information, I'll create the module for you.",
			moduleName, analysis.Understanding, analysis.ClarifyingQuestions[0],
		), nil
	}

	schema := s.assistant.GenerateSchema(ctx, description, nil)

	mod, created, err := s.modules.Create(ctx, conv.UserID, modules.CreateInput{
		Name:        moduleName,
		Description: description,
		ModuleType:  moduleType,
		Schema:      schema,
	})
	if err != nil {
		s.log.WithError(err).WithField("module", moduleName).Error("module creation failed")
		conv.Context = conversation.Context{}
		if apperrors.GetServiceError(err) != nil {
			return replyModuleCreateFailed, nil
		}
		return replyModuleCreateError, nil
	}

	conv.ModuleID = mod.ID
	conv.Context = conversation.Context{}

	if len(created) > 0 {
		if _, err := s.modules.GenerateUI(ctx, conv.UserID, mod.ID, description); err != nil {
			s.log.WithError(err).WithField("module_id", mod.ID).Warn("automatic ui generation failed")
		}
	}

	content := fmt.Sprintf(
		"I've created the **%s** module with the following database structure:\n%s\nI've also automatically generated a web UI for this module. You can now:\n\n1. **View and interact with your module** by clicking the \"View UI\" button\n2. **Add data** using the forms provided in the interface\n3. **View and manage your data** in the data tables\n\nThe interface is ready to use - no further configuration needed!",
		moduleName, schemaDescription(schema),
	)
	return content, []conversation.Action{newAction("module_created", map[string]interface{}{
		"module_id":      mod.ID,
		"module_name":    mod.Name,
		"tables_created": created,
		"ui_created":     true,
	})}
}

func (s *Service) handleCreateUI(ctx context.Context, conv *conversation.Conversation, intent conversation.Intent) (string, []conversation.Action) {
	mod, ok := s.conversationModule(ctx, conv, intent.ModuleName)
	if !ok {
		return replyUIModuleMissing, nil
	}

	updated, err := s.modules.GenerateUI(ctx, conv.UserID, mod.ID, intent.Description)
	if err != nil {
		s.log.WithError(err).WithField("module_id", mod.ID).Error("ui generation failed")
		return replyUIFailed, nil
	}
	conv.Context.PendingUI = nil

	content := fmt.Sprintf(
		"I've created a web-based user interface for the **%s** module. The UI includes:\n\n1. **Forms for adding data** to each of your tables\n2. **Data views** to see and manage your records\n3. **Filter capabilities** where appropriate\n\nYou can now click the \"View UI\" button to interact with your module through the interface.",
		updated.Name,
	)
	return content, []conversation.Action{newAction("ui_created", map[string]interface{}{
		"module_id":   updated.ID,
		"module_name": updated.Name,
	})}
}

func (s *Service) handleQueryData(ctx context.Context, conv *conversation.Conversation, intent conversation.Intent) (string, []conversation.Action) {
	mod, ok := s.conversationModule(ctx, conv, intent.ModuleName)
	if !ok {
		return replyQueryModuleMissing, nil
	}

	tableName := intent.Parameters.TableName
	if tableName == "" {
		name, ok := s.firstTableName(ctx, conv.UserID, mod.ID)
		if !ok {
			return replyNoTables, nil
		}
		tableName = name
	}

	results, err := s.modules.QueryRecords(ctx, conv.UserID, mod.ID, tableName, storage.RowQuery{
		Where:   intent.Parameters.Where,
		Params:  intent.Parameters.WhereParams,
		Limit:   intent.Parameters.Limit,
		OrderBy: intent.Parameters.OrderBy,
	})
	if err != nil {
		s.log.WithError(err).WithField("table", tableName).Warn("conversational query failed")
		results = nil
	}

	var content string
	if len(results) > 0 {
		pretty, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return replyQueryError, nil
		}
		content = fmt.Sprintf(
			"Here are the results from the \"%s\" table:\n\n```json\n%s\n```\n\nIs there anything specific you'd like to know about this data?",
			tableName, pretty,
		)
	} else {
		content = fmt.Sprintf(
			"I didn't find any data in the \"%s\" table matching your query.\n\nWould you like to add some data to this table?",
			tableName,
		)
	}
	return content, []conversation.Action{newAction("query_results", map[string]interface{}{
		"table_name": tableName,
		"results":    results,
	})}
}

func (s *Service) handleInsertData(ctx context.Context, conv *conversation.Conversation, intent conversation.Intent) (string, []conversation.Action) {
	mod, ok := s.conversationModule(ctx, conv, intent.ModuleName)
	if !ok {
		return replyInsertModuleMissing, nil
	}

	tableName := intent.Parameters.TableName
	if tableName == "" {
		name, ok := s.firstTableName(ctx, conv.UserID, mod.ID)
		if !ok {
			return replyNoTables, nil
		}
		tableName = name
	}
	if len(intent.Parameters.Data) == 0 {
		return replyInsertNoData, nil
	}

	rowID, err := s.modules.InsertRecord(ctx, conv.UserID, mod.ID, tableName, intent.Parameters.Data)
	if err != nil {
		s.log.WithError(err).WithField("table", tableName).Warn("conversational insert failed")
		return replyInsertFailed, []conversation.Action{newAction("data_inserted", map[string]interface{}{
			"table_name": tableName,
			"row_id":     0,
			"success":    false,
		})}
	}

	content := fmt.Sprintf(
		"I've successfully added the data to the \"%s\" table.\n\nThe new record has ID: %d\n\nWould you like to add more data or query the table?",
		tableName, rowID,
	)
	return content, []conversation.Action{newAction("data_inserted", map[string]interface{}{
		"table_name": tableName,
		"row_id":     rowID,
		"success":    true,
	})}
}

func (s *Service) handleGeneral(ctx context.Context, conv *conversation.Conversation) (string, []conversation.Action) {
	history := s.history(ctx, conv.ID)

	system := "You are a helpful assistant that helps users build and interact with custom applications.\nYou can create new modules, build UI interfaces, and manage data based on user needs.\n\nBe concise and direct. Make reasonable assumptions rather than asking too many questions.\nFocus on what the user is explicitly asking for."
	if conv.ModuleID != "" {
		if mod, err := s.modules.Get(ctx, conv.UserID, conv.ModuleID); err == nil {
			description := mod.Description
			if description == "" {
				description = "No description available."
			}
			system = fmt.Sprintf(
				"You are a helpful assistant specializing in the '%s' module.\nHelp the user interact with this module, providing guidance and executing their requests.\n\nModule description: %s\n\nBe concise and direct. Focus on helping the user accomplish their goals.",
				mod.Name, description,
			)
		}
	}

	reply, actions, err := s.assistant.Chat(ctx, system, history)
	if err != nil {
		s.log.WithError(err).Warn("general chat reply failed")
		return replyGeneralError, nil
	}
	return reply, actions
}

// --- helpers ---

// conversationModule resolves the module a message refers to: the linked
// module first, then the reference mentioned in the intent. The model echoes
// whatever the user said, so the reference may be an id or a name.
func (s *Service) conversationModule(ctx context.Context, conv *conversation.Conversation, moduleRef string) (module.Module, bool) {
	if conv.ModuleID != "" {
		if mod, err := s.modules.Get(ctx, conv.UserID, conv.ModuleID); err == nil {
			return mod, true
		}
	}
	if moduleRef != "" {
		if mod, err := s.modules.Resolve(ctx, conv.UserID, moduleRef); err == nil {
			return mod, true
		}
	}
	return module.Module{}, false
}

func (s *Service) firstTableName(ctx context.Context, userID, moduleID string) (string, bool) {
	tables, err := s.modules.Tables(ctx, userID, moduleID)
	if err != nil || len(tables) == 0 {
		return "", false
	}
	return tables[0].Name, true
}

// history returns the last turns of the conversation in model format,
// system messages excluded.
func (s *Service) history(ctx context.Context, conversationID string) []llm.Message {
	msgs, err := s.messages.ListMessages(ctx, conversationID)
	if err != nil {
		s.log.WithError(err).Warn("could not load conversation history")
		return nil
	}

	var turns []conversation.Message
	for _, m := range msgs {
		if m.Role == conversation.RoleSystem {
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) > historyLimit {
		turns = turns[len(turns)-historyLimit:]
	}

	history := make([]llm.Message, 0, len(turns))
	for _, m := range turns {
		role := conversation.RoleAssistant
		if m.Role == conversation.RoleUser {
			role = conversation.RoleUser
		}
		history = append(history, llm.Message{Role: role, Content: m.Content})
	}
	return history
}

func (s *Service) publish(conversationID string, msg conversation.Message) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(conversationID, MessageEvent{Type: "message", Message: msg})
}

// schemaDescription renders a markdown summary of a generated schema: a
// field table per logical table, or a sample of field names when a table is
// wide.
func schemaDescription(schema module.Schema) string {
	var b strings.Builder
	for _, tableName := range schema.TableNames() {
		spec := schema[tableName]
		if len(spec.Fields) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n%s\n", titleCase(tableName), spec.Description)

		if len(spec.Fields) <= schemaSummaryMaxFields {
			b.WriteString("| Field | Type |\n|-------|------|\n")
			for _, name := range spec.OrderedFields() {
				if name == "id" || name == "created_at" || name == "updated_at" {
					continue
				}
				fmt.Fprintf(&b, "| %s | %s |\n", name, spec.Fields[name])
			}
			continue
		}

		var sample []string
		for _, name := range spec.OrderedFields() {
			if name == "id" || name == "created_at" || name == "updated_at" {
				continue
			}
			sample = append(sample, name)
			if len(sample) == 5 {
				break
			}
		}
		fmt.Fprintf(&b, "Contains %d fields including %s and others.\n", len(spec.Fields), strings.Join(sample, ", "))
	}
	return b.String()
}

func newAction(actionType string, data map[string]interface{}) conversation.Action {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	return conversation.Action{Type: actionType, Data: raw}
}

// titleCase uppercases the first letter of every word, where words break on
// any non-letter.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r):
			b.WriteRune(r)
			prevLetter = false
		case prevLetter:
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(unicode.ToUpper(r))
			prevLetter = true
		}
	}
	return b.String()
}
