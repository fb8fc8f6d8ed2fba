package provider

import (
	"context"
	"time"
)

// Observer receives per-call telemetry.
type Observer interface {
	ObserveModelCall(providerName, model string, inputTokens, outputTokens, cachedTokens int, d time.Duration, success bool)
}

// Instrumented wraps a Provider and reports every call to an Observer.
type Instrumented struct {
	inner Provider
	obs   Observer
}

// Instrument wraps p. A nil observer returns p unchanged.
func Instrument(p Provider, obs Observer) Provider {
	if obs == nil {
		return p
	}
	return &Instrumented{inner: p, obs: obs}
}

func (i *Instrumented) Name() string { return i.inner.Name() }

// Complete implements Provider.
func (i *Instrumented) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := i.inner.Complete(ctx, req)

	var usage Usage
	if resp != nil {
		usage = resp.Usage
	}
	i.obs.ObserveModelCall(i.inner.Name(), req.Model,
		usage.InputTokens, usage.OutputTokens, usage.CachedTokens,
		time.Since(start), err == nil)
	return resp, err
}
