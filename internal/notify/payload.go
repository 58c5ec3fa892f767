package notify

import (
	"fmt"
	"strconv"
	"time"
)

// payloadBuilders renders an event for each sink format. The semantics are
// identical across formats; only the envelope differs.
var payloadBuilders = map[SinkKind]func(Event) any{
	SinkGeneric: genericPayload,
	SinkSlack:   slackPayload,
	SinkDiscord: discordPayload,
}

func title(e Event) string {
	service := e.Service
	if service == "" {
		service = "suno-mcp"
	}
	return fmt.Sprintf("%s auth %s", service, e.State)
}

func classification(e Event) string {
	if e.Classification == "" {
		return "none"
	}
	return e.Classification
}

func genericPayload(e Event) any {
	return map[string]any{
		"event":                "auth_health_changed",
		"service":              e.Service,
		"state":                e.State,
		"classification":       e.Classification,
		"message":              e.Message,
		"consecutive_failures": e.ConsecutiveFailures,
		"timestamp":            e.At.UTC().Format(time.RFC3339),
	}
}

func slackPayload(e Event) any {
	return map[string]any{
		"text": fmt.Sprintf("%s: %s", title(e), e.Message),
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{"type": "plain_text", "text": title(e)},
			},
			map[string]any{
				"type": "section",
				"fields": []any{
					map[string]any{"type": "mrkdwn", "text": "*State*\n" + e.State},
					map[string]any{"type": "mrkdwn", "text": "*Classification*\n" + classification(e)},
					map[string]any{"type": "mrkdwn", "text": "*Consecutive failures*\n" + strconv.FormatUint(uint64(e.ConsecutiveFailures), 10)},
				},
			},
			map[string]any{
				"type": "context",
				"elements": []any{
					map[string]any{"type": "mrkdwn", "text": e.Message},
				},
			},
		},
	}
}

// Discord embed colours.
const (
	colorAmber = 0xF0A020
	colorRed   = 0xD03030
	colorGreen = 0x30A050
)

func discordPayload(e Event) any {
	color := colorGreen
	switch e.State {
	case "degraded":
		color = colorAmber
	case "reauth_required":
		color = colorRed
	}
	return map[string]any{
		"embeds": []any{
			map[string]any{
				"title":       title(e),
				"description": e.Message,
				"color":       color,
				"timestamp":   e.At.UTC().Format(time.RFC3339),
				"fields": []any{
					map[string]any{"name": "State", "value": e.State, "inline": true},
					map[string]any{"name": "Classification", "value": classification(e), "inline": true},
					map[string]any{"name": "Consecutive failures", "value": strconv.FormatUint(uint64(e.ConsecutiveFailures), 10), "inline": true},
				},
			},
		},
	}
}
