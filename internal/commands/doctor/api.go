package doctor

import (
	"context"
	"fmt"
	"time"
)

// Pinger is the API client as seen by the API check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APICheck verifies that the GraphQL endpoint answers.
type APICheck struct {
	client   Pinger
	endpoint string
	timeout  time.Duration
}

// NewAPICheck creates a new API reachability check.
func NewAPICheck(client Pinger, endpoint string, timeout time.Duration) *APICheck {
	return &APICheck{client: client, endpoint: endpoint, timeout: timeout}
}

func (c *APICheck) Name() string {
	return "API"
}

func (c *APICheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	if err := c.client.Ping(ctx); err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  c.endpoint,
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  c.endpoint,
		Status: StatusPass,
		Detail: fmt.Sprintf("responded in %s", time.Since(start).Round(time.Millisecond)),
	})
	return result
}
