package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Nex2i/dripiq-sub001/contexts/outreach/campaign-engine/ports"
)

// FakeProvider records sends and answers with deterministic provider message
// IDs. Errors can be scripted per dedupe key to exercise retry paths.
type FakeProvider struct {
	mu      sync.Mutex
	sends   []ports.SendRequest
	errs    map[string]error
	counter int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		errs: make(map[string]error),
	}
}

func (p *FakeProvider) FailWith(dedupeKey string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[dedupeKey] = err
}

func (p *FakeProvider) ClearFailure(dedupeKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.errs, dedupeKey)
}

func (p *FakeProvider) Send(_ context.Context, req ports.SendRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, exists := p.errs[req.DedupeKey]; exists {
		return "", err
	}
	p.sends = append(p.sends, req)
	p.counter++
	return fmt.Sprintf("provider-msg-%d", p.counter), nil
}

func (p *FakeProvider) Sends() []ports.SendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.SendRequest(nil), p.sends...)
}

var _ ports.ProviderClient = (*FakeProvider)(nil)
