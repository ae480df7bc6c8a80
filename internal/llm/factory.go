package llm

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// ErrUnknownKind is returned for a profile kind with no adapter.
var ErrUnknownKind = errors.New("unknown provider kind")

// NewProvider creates the adapter for a backend kind. All adapters share the
// given transport, which is wrapped in a CapturingTransport. A nil transport
// uses http.DefaultTransport.
func NewProvider(kind Kind, transport http.RoundTripper) (Provider, error) {
	capturing := &CapturingTransport{Base: transport}
	switch kind {
	case KindGemini:
		return NewGeminiProvider(capturing), nil
	case KindOpenAI, KindOllama:
		return NewOpenAIProvider(kind, capturing), nil
	case KindAnthropic:
		return NewAnthropicProvider(capturing), nil
	case KindXAI:
		return NewXAIProvider(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// clientCache keeps one SDK client per profile. Clients are safe for
// concurrent use, so every call for a profile shares one.
type clientCache[C any] struct {
	mu      sync.Mutex
	clients map[string]C
}

func (c *clientCache[C]) get(p Profile, build func(Profile) (C, error)) (C, error) {
	key := p.Name + "\x00" + p.BaseURL + "\x00" + p.APIKey
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}
	client, err := build(p)
	if err != nil {
		var zero C
		return zero, err
	}
	if c.clients == nil {
		c.clients = make(map[string]C)
	}
	c.clients[key] = client
	return client, nil
}
