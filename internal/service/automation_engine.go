package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/onurcolak/whatsapp-automation-service/internal/domain"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/metrics"
	"github.com/onurcolak/whatsapp-automation-service/pkg/phone"
)

const (
	aiHistoryLimit = 8

	aiSystemPrompt = "You are the WhatsApp assistant of a yoga studio CRM. Answer concisely and warmly. " +
		"Ask at most one or two clarifying questions. Never ask for passwords, card numbers, OTPs or other secrets."

	chatbotInterestPrompt = "Thanks! Are you interested in online classes or in-studio sessions?"
	chatbotLanguagePrompt = "Great. Which language would you prefer for your classes?"
	chatbotDoneMessage    = "Thank you! Someone from our team will reach out to you shortly."
)

var optOutKeywords = []string{"STOP", "UNSUBSCRIBE", "OPTOUT"}

var questionWords = []string{
	"how", "what", "when", "where", "why", "which",
	"can", "could", "is", "are", "do", "does",
	"tell", "price", "pricing", "cost",
}

type ruleStore interface {
	FindEnabled(ctx context.Context) ([]domain.AutomationRule, error)
}

type CompletionProvider interface {
	Complete(ctx context.Context, systemPrompt string, history []domain.ConversationTurn, userText string) (string, error)
}

// AutomationEngine reacts to one inbound message by evaluating every enabled
// rule against the sending lead.
type AutomationEngine struct {
	rules         ruleStore
	leads         leadStore
	tracker       *DeliveryTracker
	dispatcher    messageDispatcher
	ai            CompletionProvider
	senderID      string
	defaultRegion string
	now           func() time.Time
}

func NewAutomationEngine(
	rules ruleStore,
	leads leadStore,
	tracker *DeliveryTracker,
	dispatcher messageDispatcher,
	ai CompletionProvider,
	senderID string,
	defaultRegion string,
) *AutomationEngine {
	return &AutomationEngine{
		rules:         rules,
		leads:         leads,
		tracker:       tracker,
		dispatcher:    dispatcher,
		ai:            ai,
		senderID:      senderID,
		defaultRegion: defaultRegion,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// OnInbound evaluates rules for one received message. Action failures are
// logged per rule; only failing to load the lead or the rules is returned.
func (e *AutomationEngine) OnInbound(ctx context.Context, ev domain.InboundEvent) error {
	normalized := phone.Normalize(ev.PhoneNumber, e.defaultRegion)
	body := strings.TrimSpace(ev.Body)
	if normalized == "" || body == "" {
		return nil
	}

	if isOptOut(body) {
		logger.Infof("Inbound opt-out keyword from %s, automations skipped", normalized)
		return nil
	}

	lead, err := e.leads.FindByID(ctx, ev.LeadID)
	if err != nil {
		return fmt.Errorf("failed to load lead %d: %w", ev.LeadID, err)
	}
	if lead == nil {
		logger.Debugf("Inbound for unknown lead %d ignored", ev.LeadID)
		return nil
	}

	rules, err := e.rules.FindEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load automation rules: %w", err)
	}

	lowered := strings.ToLower(body)
	for i := range rules {
		rule := &rules[i]
		if !e.ruleApplies(rule, lead, lowered, ev.WasFirstInbound) {
			continue
		}

		now := e.now()
		if !lead.RuleThrottle.Allows(rule.ID, rule.ThrottleWindow(), now) {
			logger.Debugf("Rule %d throttled for lead %d", rule.ID, lead.ID)
			continue
		}

		fired, err := e.execute(ctx, rule, lead, normalized, body)
		if err != nil {
			logger.Errorf("Rule %d (%s) failed for lead %d: %v", rule.ID, rule.Name, lead.ID, err)
			continue
		}
		if !fired {
			continue
		}

		metrics.RuleFiresTotal.WithLabelValues(string(rule.TriggerType)).Inc()

		throttle := lead.RuleThrottle.Mark(rule.ID, now)
		if err := e.leads.UpdateFields(ctx, lead.ID, domain.LeadUpdate{RuleThrottle: &throttle}); err != nil {
			logger.Errorf("Failed to store throttle for rule %d lead %d: %v", rule.ID, lead.ID, err)
			continue
		}
		lead.RuleThrottle = throttle
	}

	return nil
}

func (e *AutomationEngine) ruleApplies(rule *domain.AutomationRule, lead *domain.Lead, loweredBody string, firstInbound bool) bool {
	if !rule.Conditions.Matches(lead) {
		return false
	}

	switch rule.TriggerType {
	case domain.TriggerWelcome:
		return firstInbound
	case domain.TriggerKeyword:
		return matchesKeyword(rule.Keywords, loweredBody)
	case domain.TriggerAIAgent, domain.TriggerChatbot:
		return true
	}

	return false
}

// execute runs the rule's action and reports whether it counts as fired.
func (e *AutomationEngine) execute(ctx context.Context, rule *domain.AutomationRule, lead *domain.Lead, phoneNumber, body string) (bool, error) {
	if rule.TriggerType == domain.TriggerChatbot {
		return e.advanceChatbot(ctx, rule, lead, phoneNumber, body)
	}

	switch rule.ActionType {
	case domain.ActionSendText:
		if strings.TrimSpace(rule.ActionText) == "" {
			return false, nil
		}
		if _, err := e.reply(ctx, rule, lead, phoneNumber, rule.ActionText); err != nil {
			return false, err
		}
		return true, nil

	case domain.ActionUpdateLead:
		update := rule.ActionLeadUpdates.Resolve(lead)
		update.RuleThrottle, update.Chatbot = nil, nil
		if update.IsEmpty() {
			return false, nil
		}
		if err := e.leads.UpdateFields(ctx, lead.ID, update); err != nil {
			return false, err
		}
		update.Apply(lead)
		return true, nil

	case domain.ActionAIReply:
		if rule.TriggerType != domain.TriggerAIAgent {
			return false, nil
		}
		result := e.aiReply(ctx, rule, lead, phoneNumber, body)
		if result.swallowed != nil {
			metrics.AIFailuresTotal.Inc()
			logger.Warnf("AI reply for lead %d swallowed: %v", lead.ID, result.swallowed)
			return false, nil
		}
		return result.sent, nil
	}

	return false, nil
}

func (e *AutomationEngine) reply(ctx context.Context, rule *domain.AutomationRule, lead *domain.Lead, phoneNumber, text string) (DispatchResult, error) {
	ruleID, leadID := rule.ID, lead.ID
	return e.dispatcher.Dispatch(ctx, domain.NewMessage{
		LeadID:      &leadID,
		RuleID:      &ruleID,
		SenderID:    e.senderID,
		PhoneNumber: phoneNumber,
		Direction:   domain.DirectionOutbound,
		MessageType: domain.MessageTypeText,
		Content:     text,
	})
}

// aiResult separates a delivered reply from a provider failure that must
// not escape the inbound path.
type aiResult struct {
	sent      bool
	swallowed error
}

func (e *AutomationEngine) aiReply(ctx context.Context, rule *domain.AutomationRule, lead *domain.Lead, phoneNumber, body string) aiResult {
	if e.ai == nil || !looksLikeQuestion(body) {
		return aiResult{}
	}

	history, err := e.tracker.RecentTurns(ctx, lead.ID, aiHistoryLimit)
	if err != nil {
		return aiResult{swallowed: fmt.Errorf("load history: %w", err)}
	}
	// The inbound being answered is usually tracked already; it is sent as userText.
	if n := len(history); n > 0 && history[n-1].Role == "user" && strings.TrimSpace(history[n-1].Content) == body {
		history = history[:n-1]
	}

	text, err := e.ai.Complete(ctx, aiSystemPrompt, history, body)
	if err != nil {
		return aiResult{swallowed: err}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return aiResult{}
	}

	result, err := e.reply(ctx, rule, lead, phoneNumber, text)
	if err != nil {
		return aiResult{swallowed: err}
	}

	return aiResult{sent: result.Outcome == OutcomeSent}
}

// advanceChatbot consumes body as the answer to the current step and sends
// the next prompt.
func (e *AutomationEngine) advanceChatbot(ctx context.Context, rule *domain.AutomationRule, lead *domain.Lead, phoneNumber, body string) (bool, error) {
	state := lead.Chatbot
	update := domain.LeadUpdate{}
	var prompt string

	switch state.Current() {
	case domain.ChatbotAskName:
		if strings.TrimSpace(lead.Name) == "" {
			name := body
			update.Name = &name
		}
		state.Step = domain.ChatbotAskInterest
		prompt = chatbotInterestPrompt

	case domain.ChatbotAskInterest:
		state.Interest = body
		if lead.Status == "" || lead.Status == domain.LeadStatusNew {
			status := domain.LeadStatusProspect
			update.Status = &status
		}
		state.Step = domain.ChatbotAskLanguage
		prompt = chatbotLanguagePrompt

	case domain.ChatbotAskLanguage:
		state.Language = body
		state.Step = domain.ChatbotDone
		prompt = chatbotDoneMessage

	default:
		return false, nil
	}

	update.Chatbot = &state
	if err := e.leads.UpdateFields(ctx, lead.ID, update); err != nil {
		return false, err
	}
	update.Apply(lead)

	if _, err := e.reply(ctx, rule, lead, phoneNumber, prompt); err != nil {
		logger.Errorf("Chatbot prompt for lead %d not sent: %v", lead.ID, err)
	}

	return true, nil
}

func isOptOut(body string) bool {
	return slices.ContainsFunc(optOutKeywords, func(k string) bool {
		return strings.EqualFold(body, k)
	})
}

func matchesKeyword(keywords []string, loweredBody string) bool {
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(loweredBody, k) {
			return true
		}
	}
	return false
}

func looksLikeQuestion(body string) bool {
	if strings.Contains(body, "?") {
		return true
	}
	words := strings.FieldsFunc(strings.ToLower(body), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	return len(words) > 0 && slices.Contains(questionWords, words[0])
}
