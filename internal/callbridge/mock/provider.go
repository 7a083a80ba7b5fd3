package mock

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/NeoboundAI/Skiddly-sub000/internal/callbridge"
	"github.com/NeoboundAI/Skiddly-sub000/internal/config"
)

// Provider simulates the voice bridge for local runs.
type Provider struct {
	successRate float64
	timeout     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.CallBridgeConfig) *Provider {
	return &Provider{
		successRate: 0.8,
		timeout:     cfg.RequestTimeout,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// InitiateCall simulates starting an outbound call.
func (p *Provider) InitiateCall(ctx context.Context, req callbridge.CallRequest) (callbridge.Result, error) {
	p.mu.Lock()
	latency := time.Duration(100+p.rng.Intn(400)) * time.Millisecond
	success := p.rng.Float64() <= p.successRate
	retryable := p.rng.Float64() < 0.7
	callID := fmt.Sprintf("mock-call-%d", p.rng.Int63())
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return callbridge.Result{Retryable: true, Error: ctx.Err().Error(), Latency: latency}, ctx.Err()
	case <-time.After(latency):
	}

	if success {
		return callbridge.Result{
			CallID:  callID,
			Latency: latency,
		}, nil
	}

	if retryable {
		return callbridge.Result{Retryable: true, Error: "simulated timeout", Latency: latency},
			fmt.Errorf("mock provider: simulated timeout")
	}
	return callbridge.Result{Retryable: false, Error: "simulated rejection", Latency: latency},
		fmt.Errorf("mock provider: simulated rejection")
}
