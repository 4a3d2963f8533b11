// Package report renders ranked conversations into the WhatsApp message
// delivered back to the user.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/replywatch/internal/detect"
	"github.com/matheus3301/replywatch/internal/ranking"
)

// Urgency buckets for the report sections.
const (
	urgentThreshold    = 70
	importantThreshold = 40
)

// How many low-priority entries are listed before collapsing the rest.
const maxNormalShown = 3

// Format renders ranked items into the delivery payload. Pure and
// deterministic: the caller supplies generatedAt so identical inputs always
// produce identical text.
func Format(items []ranking.RankedItem, w detect.Window, generatedAt time.Time) string {
	var b strings.Builder

	b.WriteString("📊 *Open conversations report*\n")
	fmt.Fprintf(&b, "📅 Generated: %s\n", generatedAt.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "🔍 Window: last %s\n", formatDuration(w.Length()))

	if len(items) == 0 {
		b.WriteString("\n✅ All caught up! Every conversation has been answered.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "📈 Open conversations: %d\n", len(items))

	var urgent, important, normal []ranking.RankedItem
	for _, item := range items {
		switch {
		case item.Ranked && item.Score >= urgentThreshold:
			urgent = append(urgent, item)
		case item.Ranked && item.Score >= importantThreshold:
			important = append(important, item)
		default:
			normal = append(normal, item)
		}
	}

	if len(urgent) > 0 {
		b.WriteString("\n🚨 *Urgent:*\n")
		for _, item := range urgent {
			writeEntry(&b, item, generatedAt, true)
		}
	}
	if len(important) > 0 {
		b.WriteString("\n⭐ *Important:*\n")
		for _, item := range important {
			writeEntry(&b, item, generatedAt, true)
		}
	}
	if len(normal) > 0 {
		b.WriteString("\n📝 *Waiting:*\n")
		shown := normal
		if len(shown) > maxNormalShown {
			shown = shown[:maxNormalShown]
		}
		for _, item := range shown {
			writeEntry(&b, item, generatedAt, false)
		}
		if rest := len(normal) - len(shown); rest > 0 {
			fmt.Fprintf(&b, "• …and %d more\n", rest)
		}
	}

	return b.String()
}

func writeEntry(b *strings.Builder, item ranking.RankedItem, now time.Time, detailed bool) {
	fmt.Fprintf(b, "• %s\n", headline(item))
	if !item.IsGroup {
		fmt.Fprintf(b, "  💬 https://wa.me/%s\n", phoneFromChatID(item.ChatID))
	}
	if detailed && item.Rationale != "" {
		fmt.Fprintf(b, "  📌 %s\n", item.Rationale)
	}
	waiting := now.Sub(time.UnixMilli(item.UnansweredSince))
	fmt.Fprintf(b, "  🕐 waiting %s\n", formatDuration(waiting))
	if detailed && item.Preview != "" {
		fmt.Fprintf(b, "  \"%s\"\n", item.Preview)
	}
}

func headline(item ranking.RankedItem) string {
	name := item.ChatName
	if name == "" {
		name = phoneFromChatID(item.ChatID)
	}
	if item.IsGroup {
		return name + " (group)"
	}
	return fmt.Sprintf("%s (%s)", name, phoneFromChatID(item.ChatID))
}

// phoneFromChatID strips the gateway suffix, leaving the bare phone number.
func phoneFromChatID(chatID string) string {
	chatID = strings.TrimSuffix(chatID, "@c.us")
	chatID = strings.TrimSuffix(chatID, "@g.us")
	return chatID
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%02dm", h, m)
	}
}
