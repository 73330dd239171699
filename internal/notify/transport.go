package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// LogTransport writes messages to the log. It reports itself connected as
// soon as it is watched.
type LogTransport struct{}

func (LogTransport) Send(_ context.Context, address, text string) error {
	log.Info().Str("to", address).Str("text", text).Msg("notify: outbound message")
	return nil
}

func (LogTransport) Watch(ctx context.Context, report func(Status)) {
	report(Status{State: StateConnected})
	<-ctx.Done()
	report(Status{State: StateDisconnected})
}

func (LogTransport) Logout(context.Context) error {
	log.Info().Msg("notify: log transport has no session to log out")
	return nil
}

var ErrGatewayStatus = errors.New("messaging gateway returned an error status")

// HTTPTransport talks to a messaging gateway exposing POST /messages,
// GET /status and POST /logout.
type HTTPTransport struct {
	baseURL       string
	token         string
	client        *http.Client
	pollInterval time.Duration
}

func NewHTTPTransport(baseURL, token string, timeout, pollInterval time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		client:        &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type statusResponse struct {
	State  string `json:"state"`
	QRCode string `json:"qr_code"`
}

func (t *HTTPTransport) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (t *HTTPTransport) Send(ctx context.Context, address, text string) error {
	payload, err := json.Marshal(sendRequest{To: address, Text: text})
	if err != nil {
		return fmt.Errorf("notify: failed to encode message: %w", err)
	}

	req, err := t.newRequest(ctx, http.MethodPost, "/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: failed to build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrGatewayStatus, resp.StatusCode)
	}
	return nil
}

// Logout asks the gateway to drop its linked session.
func (t *HTTPTransport) Logout(ctx context.Context) error {
	req, err := t.newRequest(ctx, http.MethodPost, "/logout", nil)
	if err != nil {
		return fmt.Errorf("notify: failed to build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrGatewayStatus, resp.StatusCode)
	}
	return nil
}

// Watch polls the gateway status endpoint every poll interval.
func (t *HTTPTransport) Watch(ctx context.Context, report func(Status)) {
	report(t.checkStatus(ctx))

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report(t.checkStatus(ctx))
		}
	}
}

func (t *HTTPTransport) checkStatus(ctx context.Context) Status {
	req, err := t.newRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		log.Error().Err(err).Msg("notify: failed to build status request")
		return Status{State: StateFailure}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("notify: gateway unreachable")
		return Status{State: StateDisconnected}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Warn().Int("status", resp.StatusCode).Msg("notify: gateway status check failed")
		return Status{State: StateFailure}
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Msg("notify: malformed gateway status")
		return Status{State: StateFailure}
	}

	switch s := State(strings.ToUpper(body.State)); s {
	case StateQRCode:
		return Status{State: s, QRCode: body.QRCode}
	case StateConnected, StateDisconnected, StateFailure:
		return Status{State: s}
	default:
		return Status{State: StateFailure}
	}
}
