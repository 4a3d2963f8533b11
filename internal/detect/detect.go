// Package detect turns a time-ordered message log into the set of
// conversations still waiting for a reply.
package detect

import (
	"sort"
	"time"

	"github.com/matheus3301/replywatch/internal/store"
)

// Window is the time range of one analysis run, in unix milliseconds.
type Window struct {
	Start int64
	End   int64
}

// WindowEnding builds the window [end-lookback, end].
func WindowEnding(end time.Time, lookback time.Duration) Window {
	return Window{
		Start: end.Add(-lookback).UnixMilli(),
		End:   end.UnixMilli(),
	}
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts <= w.End
}

// Length returns the window length as a duration.
func (w Window) Length() time.Duration {
	return time.Duration(w.End-w.Start) * time.Millisecond
}

// maxTailMessages bounds how much per-chat context is carried into the
// ranking prompt.
const maxTailMessages = 4

const previewLen = 100

// Conversation summarizes the tail of one chat that is awaiting a reply.
type Conversation struct {
	ChatID   string
	ChatName string
	IsGroup  bool

	// LastMessage is the most recent message in the window.
	LastMessage store.Message

	// UnansweredSince is the timestamp of the oldest message in the trailing
	// unbroken inbound run.
	UnansweredSince int64

	// MessageCount is the number of messages the chat had in the window.
	MessageCount int

	// Tail holds the last few messages (both directions) for prompt context.
	Tail []store.Message

	// Preview is the truncated body of the last message.
	Preview string
}

// Unanswered computes the unanswered conversations for one analysis window.
//
// A chat is unanswered iff its most recent message inside the window is
// inbound and no outbound message follows it within the window. The function
// is pure: identical inputs produce identical output. Messages are expected
// in (timestamp, insertion) order, as returned by store.MessagesSince; tied
// timestamps keep their relative order.
//
// Group chats are excluded unless includeGroups is set, since a group mention
// has different reply semantics than a 1:1 chat.
func Unanswered(msgs []store.Message, w Window, includeGroups bool) []Conversation {
	byChat := make(map[string][]store.Message)
	var chatOrder []string

	for _, m := range msgs {
		if !w.Contains(m.Timestamp) {
			continue
		}
		if m.IsGroup && !includeGroups {
			continue
		}
		if _, seen := byChat[m.ChatID]; !seen {
			chatOrder = append(chatOrder, m.ChatID)
		}
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}

	var convs []Conversation
	for _, chatID := range chatOrder {
		chat := byChat[chatID]
		last := chat[len(chat)-1]
		if last.Outbound {
			// Fully handled: the latest word in the window is ours.
			continue
		}

		// Walk backward over the trailing unbroken inbound run.
		since := last.Timestamp
		for i := len(chat) - 1; i >= 0; i-- {
			if chat[i].Outbound {
				break
			}
			since = chat[i].Timestamp
		}

		tailStart := len(chat) - maxTailMessages
		if tailStart < 0 {
			tailStart = 0
		}
		tail := make([]store.Message, len(chat)-tailStart)
		copy(tail, chat[tailStart:])

		convs = append(convs, Conversation{
			ChatID:          chatID,
			ChatName:        displayName(chat),
			IsGroup:         last.IsGroup,
			LastMessage:     last,
			UnansweredSince: since,
			MessageCount:    len(chat),
			Tail:            tail,
			Preview:         truncate(last.Body, previewLen),
		})
	}

	// Oldest waiting first: this is the default priority order when the
	// ranking service is unavailable.
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UnansweredSince != convs[j].UnansweredSince {
			return convs[i].UnansweredSince < convs[j].UnansweredSince
		}
		return convs[i].ChatID < convs[j].ChatID
	})

	return convs
}

// displayName picks the chat name from the most recent message carrying one.
func displayName(chat []store.Message) string {
	for i := len(chat) - 1; i >= 0; i-- {
		if chat[i].ChatName != "" {
			return chat[i].ChatName
		}
		if chat[i].SenderName != "" && !chat[i].Outbound {
			return chat[i].SenderName
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
