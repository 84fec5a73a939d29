// Package events implements SPEC_FULL.md Part C's optional cross-instance
// job-event fan-out over NATS: NeedsHelp suspensions and completion events,
// published best-effort so a publish failure never blocks a job. No example
// repo in the pack wires nats.go for this exact purpose; the publish/connect
// shape below follows nats.go's own documented API directly (see DESIGN.md).
package events

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/codeforge/orchestrator/internal/job"
	"github.com/codeforge/orchestrator/internal/logging"
)

// NATSPublisher implements job.Notifier over a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	logger logging.Logger
}

// NewNATSPublisher connects to url and returns a publisher. Connection
// failures are fatal to startup (spec §7 ConfigError: a configured-but-
// unreachable event bus should not silently disable itself).
func NewNATSPublisher(url string, logger logging.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &NATSPublisher{conn: conn, logger: logger.WithComponent("orchestrator/events")}, nil
}

type wireEvent struct {
	Event string `json:"event"`
	JobID string `json:"jobId"`
	State string `json:"state"`
}

// Notify publishes event to subject "codeforge.job.<event>". Failures are
// logged, never returned: event fan-out must not affect job outcomes.
func (p *NATSPublisher) Notify(event string, j *job.Job) {
	payload, err := json.Marshal(wireEvent{Event: event, JobID: j.ID, State: string(j.State)})
	if err != nil {
		return
	}
	subject := "codeforge.job." + event
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("nats publish failed", logging.Fields{"subject": subject, "job_id": j.ID, "error": err.Error()})
	}
}

// Close drains and closes the underlying connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}
