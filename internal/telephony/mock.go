package telephony

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider records side-effect invocations. Used by engine tests and as
// the default provider in local development where no real voice backend is
// configured.
type MockProvider struct {
	mu sync.Mutex

	Transcriptions []TranscriptionRequest
	Ended          []string
	Dials          []DialRequest

	// FailTranscription makes StartTranscription fail, for degraded-call
	// paths.
	FailTranscription bool

	dialSeq int
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) HealthCheck(ctx context.Context) error { return nil }

func (p *MockProvider) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Dials = append(p.Dials, req)
	p.dialSeq++
	return DialResult{ProviderCallID: fmt.Sprintf("mock-dial-%d", p.dialSeq)}, nil
}

func (p *MockProvider) StartTranscription(ctx context.Context, req TranscriptionRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailTranscription {
		return fmt.Errorf("%w: transcription backend down", ErrProviderUnavailable)
	}
	p.Transcriptions = append(p.Transcriptions, req)
	return nil
}

func (p *MockProvider) EndCall(ctx context.Context, providerCallID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Ended = append(p.Ended, providerCallID)
	return nil
}

func (p *MockProvider) TranscriptionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Transcriptions)
}

// MockClient records local device control calls.
type MockClient struct {
	mu sync.Mutex

	Accepted     []string
	Rejected     []string
	Disconnected []string
}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Accept(providerCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accepted = append(c.Accepted, providerCallID)
	return nil
}

func (c *MockClient) Reject(providerCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Rejected = append(c.Rejected, providerCallID)
	return nil
}

func (c *MockClient) Disconnect(providerCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnected = append(c.Disconnected, providerCallID)
	return nil
}

func (c *MockClient) DisconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Disconnected)
}
