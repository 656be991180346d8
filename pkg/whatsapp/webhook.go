package whatsapp

import (
	"strconv"
	"strings"
	"time"

	"github.com/onurcolak/whatsapp-automation-service/pkg/phone"
)

// WebhookPayload is the Cloud API notification envelope.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string       `json:"field"`
			Value webhookValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookValue struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      struct {
			Body string `json:"body"`
		} `json:"text"`
		Button struct {
			Text string `json:"text"`
		} `json:"button"`
	} `json:"messages"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientID string `json:"recipient_id"`
		Errors      []struct {
			Code    int    `json:"code"`
			Title   string `json:"title"`
			Message string `json:"message"`
		} `json:"errors"`
	} `json:"statuses"`
}

// InboundMessage is one received message extracted from a payload.
type InboundMessage struct {
	ProviderMessageID string
	PhoneNumber       string
	ProfileName       string
	Type              string
	Body              string
	ReceivedAt        time.Time
}

// StatusUpdate is one delivery receipt extracted from a payload.
type StatusUpdate struct {
	ProviderMessageID string
	Status            string
	PhoneNumber       string
	ErrorCode         string
	ErrorMessage      string
	Timestamp         time.Time
}

// Messages flattens every inbound message in the payload.
func (p *WebhookPayload) Messages() []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				body := m.Text.Body
				if m.Type == "button" {
					body = m.Button.Text
				}
				out = append(out, InboundMessage{
					ProviderMessageID: m.ID,
					PhoneNumber:       phone.FromWhatsAppID(m.From),
					ProfileName:       names[m.From],
					Type:              m.Type,
					Body:              body,
					ReceivedAt:        parseUnix(m.Timestamp),
				})
			}
		}
	}
	return out
}

// Statuses flattens every delivery receipt in the payload.
func (p *WebhookPayload) Statuses() []StatusUpdate {
	var out []StatusUpdate
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, s := range change.Value.Statuses {
				update := StatusUpdate{
					ProviderMessageID: s.ID,
					Status:            strings.ToLower(s.Status),
					PhoneNumber:       phone.FromWhatsAppID(s.RecipientID),
					Timestamp:         parseUnix(s.Timestamp),
				}
				if len(s.Errors) > 0 {
					update.ErrorCode = strconv.Itoa(s.Errors[0].Code)
					update.ErrorMessage = s.Errors[0].Title
					if s.Errors[0].Message != "" {
						update.ErrorMessage = s.Errors[0].Message
					}
				}
				out = append(out, update)
			}
		}
	}
	return out
}

func parseUnix(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
