package runner

import (
	"context"
	"math/rand/v2"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/gatesim/internal/httpclient"
)

// Completer sends one chat completion to the gateway.
// *httpclient.Client is the production implementation.
type Completer interface {
	Complete(ctx context.Context, req httpclient.Request) (httpclient.Completion, error)
}

// Options configure a Runner.
type Options struct {
	ID             string
	Name           string
	Config         RunConfig                   // initial configuration, DefaultConfig when zero
	Completer      Completer                   // request executor (required)
	Logger         *zap.Logger                 // defaults to a no-op logger
	Tracer         trace.Tracer                // defaults to a no-op tracer
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
	Notify         func(id string)             // called after every state change
	Pick           func(n int) int             // random prompt selection, [0,n)
}

func (o *Options) normalize() {
	if o.Config == (RunConfig{}) {
		o.Config = DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("gatesim/runner")
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst of one keeps the ceiling strict even for burst pacing.
			return rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
	if o.Notify == nil {
		o.Notify = func(string) {}
	}
	if o.Pick == nil {
		o.Pick = rand.IntN
	}
}
