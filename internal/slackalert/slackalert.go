// Package slackalert dispatches P1 incident task SLA alerts to Slack via
// Block Kit messages.
package slackalert

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts SLA breach alerts. If botToken is empty it is a noop
// (logging only), letting the service run without Slack configured.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// SLAAlert describes a single overdue incident task.
type SLAAlert struct {
	TaskID       string
	IncidentID   string
	Title        string
	ActionType   string
	Owner        string
	Bucket       string
	OverdueHours float64
	RunbookURL   string
}

func bucketEmoji(bucket string) string {
	switch bucket {
	case "24h+":
		return "🔴"
	case "4-24h":
		return "🟠"
	case "0-4h":
		return "🟡"
	default:
		return "⚪"
	}
}

// PostSLAAlert sends a P1 SLA breach notification. A no-op (not an error)
// when the notifier has no Slack client configured.
func (n *Notifier) PostSLAAlert(ctx context.Context, a SLAAlert) error {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping sla alert",
			"task_id", a.TaskID, "bucket", a.Bucket,
		)
		return nil
	}

	blocks := slaAlertBlocks(a)
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fmt.Sprintf("%s P1 task overdue (%s): %s", bucketEmoji(a.Bucket), a.Bucket, a.Title), false),
	}

	channelID, ts, err := n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		return fmt.Errorf("posting sla alert to slack: %w", err)
	}

	n.logger.Info("posted sla alert to slack",
		"task_id", a.TaskID, "channel", channelID, "ts", ts, "bucket", a.Bucket,
	)
	return nil
}

func slaAlertBlocks(a SLAAlert) []goslack.Block {
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s P1 task overdue: %s", bucketEmoji(a.Bucket), a.Title), true, false),
	)

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Incident:* %s", a.IncidentID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Action:* %s", a.ActionType), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Bucket:* %s (%.1fh overdue)", a.Bucket, a.OverdueHours), false, false),
	}
	if a.Owner != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Owner:* %s", a.Owner), false, false))
	}

	blocks := []goslack.Block{header, goslack.NewSectionBlock(nil, fields, nil)}

	if a.RunbookURL != "" {
		btn := goslack.NewButtonBlockElement("view_runbook", a.TaskID,
			goslack.NewTextBlockObject(goslack.PlainTextType, "View Task", true, false))
		btn.URL = a.RunbookURL
		blocks = append(blocks, goslack.NewActionBlock("sla_alert_actions", btn))
	}

	return blocks
}
