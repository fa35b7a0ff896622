package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	SubjectTriggerRecorded = "alerts.trigger.recorded"
	SubjectTriggerResolved = "alerts.trigger.resolved"
	SubjectSchedulerRun    = "alerts.scheduler.run"
)

// RunRequest asks the scheduler for an out-of-band cycle.
type RunRequest struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

type Client struct {
	Conn *nats.Conn
}

func Connect(url, name string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{Conn: conn}, nil
}

func (c *Client) Close() {
	if c.Conn != nil {
		c.Conn.Drain()
		c.Conn.Close()
	}
}

func (c *Client) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Conn.Publish(subject, data)
}

// SubscribeRuns delivers run requests. A malformed body still counts as a request.
func (c *Client) SubscribeRuns(handler func(RunRequest)) (*nats.Subscription, error) {
	return c.Conn.Subscribe(SubjectSchedulerRun, func(msg *nats.Msg) {
		var req RunRequest
		_ = json.Unmarshal(msg.Data, &req)
		handler(req)
	})
}
