// Package gateway is the REST adapter for the WhatsApp message gateway
// (Green API wire format).
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

// Options configures the gateway client. FetchTimeout is deliberately short:
// the fetch path runs on every analysis cycle, while sends are rare.
type Options struct {
	BaseURL      string
	InstanceID   string
	Token        string
	FetchTimeout time.Duration
	SendTimeout  time.Duration
}

// Client talks to the gateway's instance-scoped REST endpoints.
type Client struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger
}

// New creates a gateway client.
func New(opts Options, logger *zap.Logger) *Client {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	return &Client{
		opts:   opts,
		http:   &http.Client{},
		logger: logger,
	}
}

// wireMessage is the gateway's journal entry shape.
type wireMessage struct {
	IDMessage         string `json:"idMessage"`
	Timestamp         int64  `json:"timestamp"` // unix seconds
	Type              string `json:"type"`      // incoming | outgoing
	TypeMessage       string `json:"typeMessage"`
	ChatID            string `json:"chatId"`
	SenderID          string `json:"senderId"`
	SenderName        string `json:"senderName"`
	SenderContactName string `json:"senderContactName"`
	TextMessage       string `json:"textMessage"`
	Caption           string `json:"caption"`
}

// FetchMessages returns both incoming and outgoing traffic since the given
// time. The gateway keeps separate journals per direction; reply detection
// needs both, so a failure fetching either journal fails the whole call.
func (c *Client) FetchMessages(ctx context.Context, since time.Time) ([]store.Message, error) {
	minutes := int(time.Since(since).Minutes()) + 1
	if minutes < 1 {
		minutes = 1
	}

	incoming, err := c.journal(ctx, "lastIncomingMessages", minutes)
	if err != nil {
		return nil, fmt.Errorf("fetch incoming journal: %w", err)
	}
	outgoing, err := c.journal(ctx, "lastOutgoingMessages", minutes)
	if err != nil {
		return nil, fmt.Errorf("fetch outgoing journal: %w", err)
	}

	msgs := make([]store.Message, 0, len(incoming)+len(outgoing))
	for _, wm := range incoming {
		msgs = append(msgs, toStoreMessage(wm, false))
	}
	for _, wm := range outgoing {
		msgs = append(msgs, toStoreMessage(wm, true))
	}
	c.logger.Info("fetched gateway journals",
		zap.Int("incoming", len(incoming)),
		zap.Int("outgoing", len(outgoing)),
		zap.Int("minutes", minutes))
	return msgs, nil
}

// SendText delivers a text message and returns the gateway-assigned id.
func (c *Client) SendText(ctx context.Context, chatID, body string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"chatId":  chatID,
		"message": body,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("sendMessage"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var result struct {
		IDMessage string `json:"idMessage"`
	}
	if err := c.do(req, &result); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	c.logger.Info("message sent", zap.String("chat_id", chatID), zap.String("msg_id", result.IDMessage))
	return result.IDMessage, nil
}

func (c *Client) journal(ctx context.Context, endpoint string, minutes int) ([]wireMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?minutes=%d", c.endpoint(endpoint), minutes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var msgs []wireMessage
	if err := c.do(req, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) endpoint(name string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", c.opts.BaseURL, c.opts.InstanceID, name, c.opts.Token)
}

func toStoreMessage(wm wireMessage, outbound bool) store.Message {
	if wm.Type == "outgoing" {
		outbound = true
	}
	body := wm.TextMessage
	if body == "" {
		body = wm.Caption
	}
	if body == "" && wm.TypeMessage != "" {
		body = "(" + wm.TypeMessage + ")"
	}
	name := wm.SenderContactName
	if name == "" {
		name = wm.SenderName
	}
	return store.Message{
		MsgID:      wm.IDMessage,
		ChatID:     wm.ChatID,
		ChatName:   chatDisplayName(wm, outbound),
		SenderID:   wm.SenderID,
		SenderName: name,
		Body:       body,
		Outbound:   outbound,
		IsGroup:    strings.HasSuffix(wm.ChatID, "@g.us"),
		Timestamp:  wm.Timestamp * 1000,
	}
}

// chatDisplayName attributes a name to the chat only from inbound traffic:
// for outgoing messages the sender is the user, not the counterpart.
func chatDisplayName(wm wireMessage, outbound bool) string {
	if outbound {
		return ""
	}
	if wm.SenderContactName != "" {
		return wm.SenderContactName
	}
	return wm.SenderName
}
