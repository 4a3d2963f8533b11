package ranking

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/replywatch/internal/detect"
)

const systemPrompt = `You are a personal assistant that triages WhatsApp conversations.
You receive the user's open conversations (chats whose last message has not been replied to)
and rank them by how urgently they need a reply.`

const responseInstructions = `Rank these conversations by urgency. Consider emergencies,
business/work requests, direct questions, and how long the sender has been waiting.

Return only valid JSON in exactly this shape, with no extra text and no markdown:
{
  "ranked": [
    {"chat_id": "<id from the input>", "urgency": <0-100>, "reason": "<one short sentence>"}
  ],
  "summary": "<one-sentence overview of the situation>"
}

Order "ranked" from most to least urgent and include every conversation exactly once.`

// promptConversation is the per-conversation shape embedded in the prompt.
type promptConversation struct {
	ChatID       string   `json:"chat_id"`
	ChatName     string   `json:"chat_name,omitempty"`
	IsGroup      bool     `json:"is_group,omitempty"`
	HoursWaiting float64  `json:"hours_waiting"`
	MessageCount int      `json:"message_count"`
	Messages     []string `json:"messages"`
}

// buildPrompt renders the single batched user prompt for one analysis run.
// One call covers every conversation; per-conversation calls would multiply
// latency and cost by the number of open chats.
func buildPrompt(convs []detect.Conversation, now time.Time) string {
	summaries := make([]promptConversation, 0, len(convs))
	for _, c := range convs {
		waiting := now.Sub(time.UnixMilli(c.UnansweredSince)).Hours()
		if waiting < 0 {
			waiting = 0
		}
		summaries = append(summaries, promptConversation{
			ChatID:       c.ChatID,
			ChatName:     c.ChatName,
			IsGroup:      c.IsGroup,
			HoursWaiting: round1(waiting),
			MessageCount: c.MessageCount,
			Messages:     tailLines(c),
		})
	}

	// Indented JSON keeps the prompt readable in logs and for the model.
	body, _ := json.MarshalIndent(summaries, "", "  ")

	return fmt.Sprintf("Open conversations:\n%s\n\n%s", body, responseInstructions)
}

// tailLines renders the conversation tail as "[HH:MM] who: text" lines.
func tailLines(c detect.Conversation) []string {
	lines := make([]string, 0, len(c.Tail))
	for _, m := range c.Tail {
		who := "them"
		if m.Outbound {
			who = "me"
		}
		stamp := time.UnixMilli(m.Timestamp).UTC().Format("15:04")
		body := m.Body
		if body == "" {
			body = "(media message)"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", stamp, who, body))
	}
	return lines
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}
