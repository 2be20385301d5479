package llm

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ethanteng/finsight-sub001/internal/tier"
)

// Router picks the model for a user tier. Tiers without their own model use
// the default.
type Router struct {
	provider Provider
	models   map[tier.Tier]string
	fallback string
}

// NewRouter creates a router. models maps tier name ("starter", "standard",
// "premium") to model id; unparseable keys are ignored.
func NewRouter(provider Provider, defaultModel string, models map[string]string) *Router {
	r := &Router{provider: provider, models: make(map[tier.Tier]string), fallback: defaultModel}
	for name, model := range models {
		t, err := tier.Parse(name)
		if err != nil || strings.TrimSpace(model) == "" {
			continue
		}
		r.models[t] = model
	}
	return r
}

// Route returns the provider and model for t.
func (r *Router) Route(ctx context.Context, t tier.Tier) (Provider, string) {
	_, span := tracer.Start(ctx, "llm.route")
	defer span.End()

	model, ok := r.models[t]
	if !ok {
		model = r.fallback
	}
	span.SetAttributes(
		attribute.String("user.tier", t.String()),
		attribute.String("gen_ai.request.model", model),
	)
	return r.provider, model
}
