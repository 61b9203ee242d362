package notify

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/dispatch-sync/internal/model"
)

// maxErrors caps the chunk errors listed in one message.
const maxErrors = 5

// Message is a Slack incoming-webhook payload.
type Message struct {
	Channel string  `json:"channel,omitempty"`
	Text    string  `json:"text"`
	Blocks  []Block `json:"blocks"`
}

// Block is one Slack block-kit element.
type Block struct {
	Type     string  `json:"type"`
	Text     *Text   `json:"text,omitempty"`
	Elements []*Text `json:"elements,omitempty"`
}

// Text is a Slack text object.
type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	title   = cases.Title(language.English)
	printer = message.NewPrinter(language.English)
)

var emoji = map[Status]string{
	StatusSuccess: ":white_check_mark:",
	StatusError:   ":x:",
	StatusWarning: ":warning:",
	StatusInfo:    ":information_source:",
}

// Blocks renders a status message with metrics, write counts and up to
// five chunk errors.
func Blocks(status Status, msg string, m *model.EnrichmentMetrics, w *model.WriteResult, at time.Time) []Block {
	blocks := []Block{
		{Type: "header", Text: &Text{Type: "plain_text", Text: "Dispatch Sync " + title.String(string(status))}},
		section(emoji[status] + " " + msg),
	}

	if lines := metricLines(m, w); len(lines) > 0 {
		blocks = append(blocks, section("*Metrics:*\n"+strings.Join(lines, "\n")))
	}

	if w != nil && len(w.Errors) > 0 {
		var errs []string
		for i, e := range w.Errors {
			if i == maxErrors {
				errs = append(errs, fmt.Sprintf("• and %d more", len(w.Errors)-maxErrors))
				break
			}
			errs = append(errs, "• "+e.Error())
		}
		blocks = append(blocks, section("*Errors:*\n"+strings.Join(errs, "\n")))
	}

	blocks = append(blocks, Block{
		Type:     "context",
		Elements: []*Text{{Type: "mrkdwn", Text: at.Format("2006-01-02 15:04:05 UTC")}},
	})
	return blocks
}

func section(text string) Block {
	return Block{Type: "section", Text: &Text{Type: "mrkdwn", Text: text}}
}

func metricLines(m *model.EnrichmentMetrics, w *model.WriteResult) []string {
	var lines []string
	if m != nil {
		lines = append(lines,
			printer.Sprintf("Records Processed: %d", m.TotalDispatch),
			printer.Sprintf("Telemetry Trips: %d", m.TotalTelemetry),
			fmt.Sprintf("Match Rate: %.1f%%", m.MatchRate*100),
		)
		if m.AvgMilesVariance != nil {
			lines = append(lines, fmt.Sprintf("Avg Miles Variance: %+.1f", *m.AvgMilesVariance))
		}
		if m.AvgStopsVariance != nil {
			lines = append(lines, fmt.Sprintf("Avg Stops Variance: %+.1f", *m.AvgStopsVariance))
		}
		if m.AvgIdlePercentage != nil {
			lines = append(lines, fmt.Sprintf("Avg Idle Time: %.1f%%", *m.AvgIdlePercentage))
		}
	}
	if w != nil {
		lines = append(lines,
			printer.Sprintf("Records Inserted: %d", w.Inserted),
			printer.Sprintf("Records Updated: %d", w.Updated),
			printer.Sprintf("Unchanged: %d", w.Skipped),
			fmt.Sprintf("Processing Time: %.1fs", w.Duration().Seconds()),
		)
	}
	return lines
}
