// Package notify delivers benchmark completion summary to a webhook
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"text/template"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/notify"

	"github.com/go-taskbench/taskbench/app/bench"
)

//go:generate moq -out mocks/sender.go -pkg mocks -skip-ensure -fmt goimports . Sender

// Sender sends text to destination
type Sender interface {
	Send(ctx context.Context, destination, text string) error
}

// Params defines notification service configuration
type Params struct {
	WebhookURL string
	Timeout    time.Duration
	Headers    []string // in "name:value" format
}

// Service sends benchmark summaries
type Service struct {
	sender  Sender
	url     string
	timeout time.Duration
}

// Summary is the data of a summary message
type Summary struct {
	Server     string
	Host       string
	Iterations int
	Parallel   int
	Results    bench.Results
	TS         time.Time
}

const summaryTmpl = `Benchmark of {{.Server}} completed on {{.Host}} at {{.TS.Format "2006-01-02T15:04:05Z07:00"}}
iterations: {{.Iterations}}, parallel requests: {{.Parallel}}
{{range .Results}}{{.Name}}: single-threaded {{printf "%.6f" .Timing.SingleThreaded}} ms, multi-threaded {{printf "%.6f" .Timing.MultiThreaded}} ms
{{end}}`

var summaryTemplate = template.Must(template.New("summary").Parse(summaryTmpl))

// NewService makes notification service, returns nil if webhook url is not set
func NewService(p Params) *Service {
	if p.WebhookURL == "" {
		return nil
	}
	if p.Timeout <= 0 {
		p.Timeout = 10 * time.Second
	}
	return &Service{
		sender:  notify.NewWebhook(notify.WebhookParams{Timeout: p.Timeout, Headers: p.Headers}),
		url:     p.WebhookURL,
		timeout: p.Timeout,
	}
}

// Send posts text to the webhook, nil service does nothing
func (s *Service) Send(ctx context.Context, text string) error {
	if s == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.sender.Send(ctx, s.url, text); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	log.Printf("[DEBUG] notification sent to %s", s.url)
	return nil
}

// MakeSummary renders plain-text summary, one line per operation.
// Empty host is filled with the host name.
func MakeSummary(s Summary) (string, error) {
	if len(s.Results) == 0 {
		return "", errors.New("no results to report")
	}
	if s.Host == "" {
		s.Host, _ = os.Hostname()
	}
	if s.TS.IsZero() {
		s.TS = time.Now()
	}
	buf := bytes.Buffer{}
	if err := summaryTemplate.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("failed to apply summary template: %w", err)
	}
	return buf.String(), nil
}
