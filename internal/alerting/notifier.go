package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notification carries the context of a turbulence alert.
type Notification struct {
	Instrument        string
	Timestamp         int64
	TurbulencePercent uint64
	ThresholdPercent  uint64
	CumulativeFee     uint64
	Price             int64
}

// Notifier delivers turbulence alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram alert channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered alert via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("instrument", note.Instrument).
		Uint64("turbulence_pct", note.TurbulencePercent).
		Msg("turbulence alert sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Turbulence Alert]\n")
	builder.WriteString(fmt.Sprintf("Instrument: %s\n", note.Instrument))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", time.Unix(note.Timestamp, 0).UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Turbulence: %s%% (threshold %s%%)\n",
		formatBasisPoints(note.TurbulencePercent), formatBasisPoints(note.ThresholdPercent)))
	builder.WriteString(fmt.Sprintf("Index: %d\n", note.Price))
	builder.WriteString(fmt.Sprintf("Cumulative fee: %d\n", note.CumulativeFee))
	return builder.String()
}

func formatBasisPoints(bp uint64) string {
	return fmt.Sprintf("%d.%02d", bp/100, bp%100)
}

var _ Notifier = (*TelegramNotifier)(nil)
