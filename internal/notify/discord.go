package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/trailbot/internal/domain"
)

// Embed colours, 0xRRGGBB.
const (
	colorOpened    = 0x3498DB
	colorMoved     = 0xF1C40F
	colorProfit    = 0x2ECC71
	colorLoss      = 0xE67E22
	colorFailure   = 0xE74C3C
	colorSyncError = 0x95A5A6
)

// discordMaxFields is the embed field limit of the webhook API.
const discordMaxFields = 25

// DiscordSender delivers notifications via a Discord webhook. Events are
// posted as embeds coloured by type; plain messages go out as content.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string              `json:"title"`
	Color     int                 `json:"color"`
	Fields    []discordEmbedField `json:"fields,omitempty"`
	Timestamp string              `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Content  string         `json:"content,omitempty"`
	Embeds   []discordEmbed `json:"embeds,omitempty"`
}

// Send posts a plain message. The title is rendered in bold using Discord
// markdown syntax.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.post(ctx, discordPayload{
		Username: "trailbot",
		Content:  fmt.Sprintf("**%s**\n%s", title, message),
	})
}

// SendEvent posts evt as a single embed. Position, owner and payload values
// become inline fields in a stable order.
func (d *DiscordSender) SendEvent(ctx context.Context, evt domain.Event) error {
	title, _ := Format(evt)
	embed := discordEmbed{
		Title: title,
		Color: eventColor(evt),
	}
	if !evt.At.IsZero() {
		embed.Timestamp = evt.At.UTC().Format(time.RFC3339)
	}
	if evt.PositionID != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "position", Value: evt.PositionID})
	}
	if evt.OwnerID != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "owner", Value: evt.OwnerID, Inline: true})
	}

	keys := make([]string, 0, len(evt.Payload))
	for k := range evt.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(embed.Fields) == discordMaxFields {
			break
		}
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   k,
			Value:  fmt.Sprintf("%v", evt.Payload[k]),
			Inline: true,
		})
	}

	return d.post(ctx, discordPayload{Username: "trailbot", Embeds: []discordEmbed{embed}})
}

// eventColor picks the embed colour. A close is green in profit and orange
// at a loss.
func eventColor(evt domain.Event) int {
	switch evt.Type {
	case domain.EventPositionOpened:
		return colorOpened
	case domain.EventTakeProfitMoved:
		return colorMoved
	case domain.EventPositionClosed:
		if pnl, ok := evt.Payload["realized_pnl"].(float64); ok && pnl < 0 {
			return colorLoss
		}
		return colorProfit
	case domain.EventCloseFailed:
		return colorFailure
	default:
		return colorSyncError
	}
}

func (d *DiscordSender) post(ctx context.Context, payload discordPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// 204 on success, 429 when the webhook is rate limited.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
