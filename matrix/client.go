// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package matrix implements the device-facing client for the HDMI matrix
// switch.
//
// The matrix accepts JSON instructions on a single HTTP endpoint
// (POST http://<host>/cgi-bin/instr). Every instruction carries a "comhead"
// naming the command, and a well-behaved device echoes the same comhead in
// its response. A response with a missing or different comhead is treated as
// a device fault.
//
// # Wire Commands
//
//   - "video switch"      routes an input port to an output port
//   - "get status"        reports the global power flag
//   - "get output status" reports per-output routing and output names
//   - "get input status"  reports input names
//   - "set poweronoff"    toggles global power
//
// # Concurrency
//
// The client owns the connection discipline required by the matrix: exactly
// one in-flight instruction at a time. All exported methods serialize on an
// internal mutex, so concurrent callers never interleave command bytes. Each
// exchange is bounded by the configured timeout; a circuit breaker opens
// after repeated transport failures so callers back off while the device is
// down.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/metrics"
)

const (
	instrPath = "/cgi-bin/instr"

	comheadVideoSwitch  = "video switch"
	comheadGetStatus    = "get status"
	comheadOutputStatus = "get output status"
	comheadInputStatus  = "get input status"
	comheadSetPower     = "set poweronoff"

	minPort = 1
	maxPort = 8

	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second
	maxResponseBytes        = 64 * 1024
)

// instruction is the JSON request body understood by the matrix.
type instruction struct {
	Comhead  string `json:"comhead"`
	Language int    `json:"language"`
	Source   []int  `json:"source,omitempty"`
	Power    *int   `json:"power,omitempty"`
}

type statusResponse struct {
	Comhead string `json:"comhead"`
	Power   int    `json:"power"`
}

type outputStatusResponse struct {
	Comhead   string   `json:"comhead"`
	Name      []string `json:"name"`
	AllSource []int    `json:"allsource"`
}

type inputStatusResponse struct {
	Comhead string   `json:"comhead"`
	InName  []string `json:"inname"`
}

type ackResponse struct {
	Comhead string `json:"comhead"`
}

// Client talks to one physical matrix. Safe for concurrent use.
type Client struct {
	host       string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	mu sync.Mutex // one in-flight instruction at a time
}

var _ interfaces.MatrixController = (*Client)(nil)

// NewClient creates a client for the matrix at host. The timeout bounds each
// command round trip.
func NewClient(host string, timeout time.Duration) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "matrix-" + host,
		Timeout: breakerResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("Matrix circuit breaker state change")
		},
	})

	return &Client{
		host:    host,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: breaker,
	}
}

// Addr returns the device address the client talks to.
func (c *Client) Addr() string {
	return c.host
}

// SwitchZone routes input port sourceID to output port zoneID.
func (c *Client) SwitchZone(ctx context.Context, zoneID, sourceID int) error {
	if err := checkPort("zone", zoneID); err != nil {
		return err
	}
	if err := checkPort("source", sourceID); err != nil {
		return err
	}

	instr := instruction{
		Comhead:  comheadVideoSwitch,
		Language: 0,
		// The device expects [input, output], in that order.
		Source: []int{sourceID, zoneID},
	}

	var ack ackResponse
	if err := c.exchange(ctx, instr, &ack); err != nil {
		return err
	}
	if ack.Comhead != comheadVideoSwitch {
		return c.faultErr(comheadVideoSwitch, fmt.Errorf("unexpected comhead %q", ack.Comhead))
	}

	logger.Debug().Int("zone", zoneID).Int("source", sourceID).Msg("Video switch acknowledged")
	return nil
}

// Status queries the global power state.
func (c *Client) Status(ctx context.Context) (*interfaces.MatrixStatus, error) {
	instr := instruction{Comhead: comheadGetStatus, Language: 0}

	var resp statusResponse
	if err := c.exchange(ctx, instr, &resp); err != nil {
		return nil, err
	}
	if resp.Comhead != comheadGetStatus {
		return nil, c.faultErr(comheadGetStatus, fmt.Errorf("unexpected comhead %q", resp.Comhead))
	}

	power := interfaces.PowerOff
	if resp.Power == 1 {
		power = interfaces.PowerOn
	}
	return &interfaces.MatrixStatus{Power: power}, nil
}

// OutputStatus queries per-output routing and device-side output names.
func (c *Client) OutputStatus(ctx context.Context) (*interfaces.OutputStatus, error) {
	instr := instruction{Comhead: comheadOutputStatus, Language: 0}

	var resp outputStatusResponse
	if err := c.exchange(ctx, instr, &resp); err != nil {
		return nil, err
	}
	if resp.Comhead != comheadOutputStatus {
		return nil, c.faultErr(comheadOutputStatus, fmt.Errorf("unexpected comhead %q", resp.Comhead))
	}
	if len(resp.AllSource) != maxPort {
		return nil, c.faultErr(comheadOutputStatus,
			fmt.Errorf("allsource has %d entries, want %d", len(resp.AllSource), maxPort))
	}
	for i, src := range resp.AllSource {
		if src < minPort || src > maxPort {
			return nil, c.faultErr(comheadOutputStatus,
				fmt.Errorf("allsource[%d]=%d out of range %d..%d", i, src, minPort, maxPort))
		}
	}

	return &interfaces.OutputStatus{
		Names:      resp.Name,
		AllSources: resp.AllSource,
	}, nil
}

// InputStatus queries device-side input names.
func (c *Client) InputStatus(ctx context.Context) (*interfaces.InputStatus, error) {
	instr := instruction{Comhead: comheadInputStatus, Language: 0}

	var resp inputStatusResponse
	if err := c.exchange(ctx, instr, &resp); err != nil {
		return nil, err
	}
	if resp.Comhead != comheadInputStatus {
		return nil, c.faultErr(comheadInputStatus, fmt.Errorf("unexpected comhead %q", resp.Comhead))
	}

	return &interfaces.InputStatus{Names: resp.InName}, nil
}

// SetPower toggles the matrix global power state.
func (c *Client) SetPower(ctx context.Context, on bool) error {
	power := 0
	if on {
		power = 1
	}
	instr := instruction{Comhead: comheadSetPower, Language: 0, Power: &power}

	var ack ackResponse
	if err := c.exchange(ctx, instr, &ack); err != nil {
		return err
	}
	if ack.Comhead != comheadSetPower {
		return c.faultErr(comheadSetPower, fmt.Errorf("unexpected comhead %q", ack.Comhead))
	}

	logger.Debug().Bool("on", on).Msg("Power command acknowledged")
	return nil
}

// exchange sends one instruction and decodes the response into out. The
// mutex is held for the full round trip so commands never interleave.
func (c *Client) exchange(ctx context.Context, instr instruction, out interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics.CommandsTotal.WithLabelValues(instr.Comhead).Inc()
	start := time.Now()
	err := c.doExchange(ctx, instr, out)
	metrics.CommandDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.CommandErrors.WithLabelValues(instr.Comhead).Inc()
	}
	return err
}

func (c *Client) doExchange(ctx context.Context, instr instruction, out interface{}) error {
	body, err := json.Marshal(instr)
	if err != nil {
		return apperrors.NewCommandError(instr.Comhead, c.host, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperrors.NewCommandError(instr.Comhead, c.host,
				fmt.Errorf("%w: %w", apperrors.ErrDeviceUnreachable, apperrors.ErrCircuitOpen))
		}
		return apperrors.NewCommandError(instr.Comhead, c.host, err)
	}

	raw := result.([]byte)
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewCommandError(instr.Comhead, c.host,
			fmt.Errorf("%w: garbled response: %v", apperrors.ErrDeviceFault, err))
	}
	return nil
}

// post performs the HTTP exchange. Transport failures and non-200 statuses
// are classified here so the breaker counts them.
func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	url := "http://" + c.host + instrPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDeviceUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDeviceUnreachable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", apperrors.ErrDeviceFault, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDeviceUnreachable, err)
	}
	return raw, nil
}

func (c *Client) faultErr(op string, err error) error {
	return apperrors.NewCommandError(op, c.host, fmt.Errorf("%w: %v", apperrors.ErrDeviceFault, err))
}

func checkPort(kind string, port int) error {
	if port < minPort || port > maxPort {
		return fmt.Errorf("%s port %d out of range %d..%d", kind, port, minPort, maxPort)
	}
	return nil
}
