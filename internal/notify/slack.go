// Package notify posts batch summaries to Slack.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"voice-conformity-go/internal/actionable"
	"voice-conformity-go/internal/logger"
	"voice-conformity-go/internal/types"
)

const maxListedFailures = 5

type Slack struct {
	api     *slack.Client
	channel string
	log     *logger.Logger
}

// NewSlack builds a notifier for channel. apiURL overrides the Slack API base
// and is only set in tests.
func NewSlack(token, channel, apiURL string, log *logger.Logger) *Slack {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Slack{api: slack.New(token, opts...), channel: channel, log: log.Component("notify")}
}

// BatchFinished posts the run summary. card is optional.
func (s *Slack) BatchFinished(ctx context.Context, kind string, r types.BatchReport, card *actionable.ActionCard) error {
	_, ts, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(FormatReport(kind, r, card), false))
	if err != nil {
		return fmt.Errorf("post slack summary: %w", err)
	}
	s.log.WithField("ts", ts).WithField("run_id", r.RunID).Debug("summary posted")
	return nil
}

// FormatReport renders a report as Slack mrkdwn.
func FormatReport(kind string, r types.BatchReport, card *actionable.ActionCard) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "*Conformity %s finished* (run `%s`)\n", kind, r.RunID)
	fmt.Fprintf(&sb, "Pending %d | processed %d | failed %d | skipped %d\n", r.Pending, r.Processed, r.Failed, r.Skipped)
	fmt.Fprintf(&sb, "Cost: transcription $%.4f, judge $%.4f, took %s\n",
		r.TranscriptionCost, r.JudgeCost, r.Duration().Round(time.Second))

	if len(r.Failures) > 0 {
		sb.WriteString("Failures:\n")
		for i, f := range r.Failures {
			if i == maxListedFailures {
				fmt.Fprintf(&sb, "• … and %d more\n", len(r.Failures)-maxListedFailures)
				break
			}
			fmt.Fprintf(&sb, "• %s (%s) at %s: %s\n", f.AudioRef, f.Identity, f.Stage, f.Kind)
		}
	}
	if card != nil {
		fmt.Fprintf(&sb, "\n*%s*\n%s", card.Insight, card.Action)
	}
	return sb.String()
}
