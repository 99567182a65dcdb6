package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayProvider talks to the voice gateway's REST control API. The gateway
// owns the actual SIP/media legs; this client only starts, ends, and decorates
// sessions it is told about.
type GatewayProvider struct {
	baseURL string
	token   string
	hc      *http.Client
}

type GatewayConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

func NewGatewayProvider(cfg GatewayConfig) (*GatewayProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("telephony: gateway base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("telephony: gateway base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GatewayProvider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		hc:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *GatewayProvider) Name() string { return "gateway" }

func (p *GatewayProvider) HealthCheck(ctx context.Context) error {
	return p.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (p *GatewayProvider) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	var out DialResult
	if err := p.do(ctx, http.MethodPost, "/calls", req, &out); err != nil {
		return DialResult{}, err
	}
	if out.ProviderCallID == "" {
		return DialResult{}, fmt.Errorf("%w: dial returned no session id", ErrProviderUnavailable)
	}
	return out, nil
}

func (p *GatewayProvider) StartTranscription(ctx context.Context, req TranscriptionRequest) error {
	if req.ProviderCallID == "" {
		return fmt.Errorf("telephony: transcription needs a provider call id")
	}
	path := "/calls/" + url.PathEscape(req.ProviderCallID) + "/transcription"
	return p.do(ctx, http.MethodPost, path, req, nil)
}

func (p *GatewayProvider) EndCall(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return fmt.Errorf("telephony: end call needs a provider call id")
	}
	path := "/calls/" + url.PathEscape(providerCallID)
	return p.do(ctx, http.MethodDelete, path, nil, nil)
}

// Device leg control (the Client surface). The gateway hosts this agent's
// media leg, so accept/reject/teardown are control-API calls against the same
// session. Client methods carry no context; a short internal timeout bounds
// them instead.

func (p *GatewayProvider) Accept(providerCallID string) error {
	return p.deviceAction(providerCallID, "accept")
}

func (p *GatewayProvider) Reject(providerCallID string) error {
	return p.deviceAction(providerCallID, "reject")
}

func (p *GatewayProvider) Disconnect(providerCallID string) error {
	return p.deviceAction(providerCallID, "disconnect")
}

func (p *GatewayProvider) deviceAction(providerCallID, action string) error {
	if providerCallID == "" {
		return fmt.Errorf("telephony: %s needs a provider call id", action)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path := "/device/calls/" + url.PathEscape(providerCallID) + "/" + action
	return p.do(ctx, http.MethodPost, path, nil, nil)
}

func (p *GatewayProvider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return fmt.Errorf("telephony: encode request: %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrProviderUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s: status %d", ErrProviderUnavailable, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("telephony: %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("telephony: decode response: %w", err)
	}
	return nil
}
