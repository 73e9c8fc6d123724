package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
)

// DurabilityState is the confirmation state of an upload.
type DurabilityState int

const (
	// StatePending means the gateway has not seen the content in a block.
	StatePending DurabilityState = iota
	// StateConfirming means the content is mined with too few confirmations.
	StateConfirming
	// StateConfirmed means the required confirmations were reached.
	StateConfirmed
	// StateFailed means the gateway dropped or rejected the content.
	StateFailed
)

// String returns the state name.
func (s DurabilityState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirming:
		return "confirming"
	case StateConfirmed:
		return "confirmed"
	default:
		return "failed"
	}
}

// Terminal reports whether no further transitions are possible.
func (s DurabilityState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// DurabilityStatus is the latest observation of an upload.
type DurabilityStatus struct {
	ID            string
	State         DurabilityState
	Confirmations int
	BlockHeight   int64
}

// Confirmed reports whether the content reached the required depth.
func (s *DurabilityStatus) Confirmed() bool {
	return s.State == StateConfirmed
}

// advance applies an observation. Terminal states absorb, and progress
// never moves backwards.
func advance(current, observed DurabilityState) DurabilityState {
	if current.Terminal() {
		return current
	}
	if observed == StateFailed || observed > current {
		return observed
	}
	return current
}

type txStatus struct {
	BlockHeight   int64 `json:"block_height"`
	Confirmations int   `json:"number_of_confirmations"`
}

// Status performs a single status check.
func (c *Client) Status(ctx context.Context, id string) (*DurabilityStatus, error) {
	if !dataitem.ValidID(id) {
		return nil, apperr.New(apperr.KindValidation, apperr.CodeInvalidInput,
			fmt.Sprintf("%q is not a valid content id", id), "")
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.gatewayURL+"/tx/"+id+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(reqCtx, err)
	}
	defer resp.Body.Close()

	status := &DurabilityStatus{ID: id, State: StatePending}
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNotFound:
		return status, nil
	case http.StatusGone, http.StatusBadRequest:
		status.State = StateFailed
		return status, nil
	case http.StatusOK:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(resp.StatusCode, string(body))
	}

	var tx txStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&tx); err != nil {
		return nil, apperr.Wrap(err, apperr.KindNetwork, apperr.CodeBadRequest, "decoding status", "")
	}
	status.BlockHeight = tx.BlockHeight
	status.Confirmations = tx.Confirmations
	if tx.Confirmations >= c.confirmations {
		status.State = StateConfirmed
	} else {
		status.State = StateConfirming
	}
	return status, nil
}

// PollDurability checks the status of id every poll interval until it is
// confirmed, fails, or timeout elapses. A timeout of zero uses the default.
// Transient status errors are logged and polling continues. Reaching the
// timeout returns the last status with a timeout error.
func (c *Client) PollDurability(ctx context.Context, id string, timeout time.Duration) (*DurabilityStatus, error) {
	if timeout <= 0 {
		timeout = DefaultDurabilityTimeout
	}
	deadline := c.clock.Now().Add(timeout)
	current := &DurabilityStatus{ID: id, State: StatePending}

	for {
		observed, err := c.Status(ctx, id)
		switch {
		case err != nil && !Retryable(err):
			return current, err
		case err != nil:
			c.logger.Warn("status check failed", "id", id, "error", err)
		default:
			next := advance(current.State, observed.State)
			if next != current.State {
				c.logger.Info("durability state changed", "id", id, "from", current.State, "to", next,
					"confirmations", observed.Confirmations)
			}
			observed.State = next
			current = observed
		}

		switch current.State {
		case StateConfirmed:
			return current, nil
		case StateFailed:
			return current, apperr.New(apperr.KindNetwork, apperr.CodeNotFound,
				fmt.Sprintf("content %s was dropped by the network", id), "upload the bundle again")
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return current, apperr.New(apperr.KindNetwork, apperr.CodeTimeout,
				fmt.Sprintf("content %s not confirmed after %s (state %s, %d confirmations)",
					id, timeout, current.State, current.Confirmations),
				"the content is usable already; confirmations continue in the background")
		}
		wait := c.pollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return current, apperr.Wrap(ctx.Err(), apperr.KindNetwork, apperr.CodeTimeout,
				"durability polling interrupted", "")
		case <-c.clock.After(wait):
		}
	}
}
