package notary

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/starford/nbtrust/internal/signer"
)

const meterName = "github.com/starford/nbtrust/notary"

const (
	checkTrusted   = "trusted"
	checkUntrusted = "untrusted"
	checkError     = "error"
)

// Metrics counts notary operations.
type Metrics struct {
	signs   metric.Int64Counter
	checks  metric.Int64Counter
	unsigns metric.Int64Counter
	culled  metric.Int64Counter
}

// NewMetrics creates notary counters on meter, or on the global meter
// provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	signs, err := meter.Int64Counter(
		"nbtrust.sign.total",
		metric.WithDescription("Notebooks signed"),
		metric.WithUnit("{notebook}"),
	)
	if err != nil {
		return nil, err
	}
	checks, err := meter.Int64Counter(
		"nbtrust.check.total",
		metric.WithDescription("Signature checks by outcome"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}
	unsigns, err := meter.Int64Counter(
		"nbtrust.unsign.total",
		metric.WithDescription("Notebooks unsigned"),
		metric.WithUnit("{notebook}"),
	)
	if err != nil {
		return nil, err
	}
	culled, err := meter.Int64Counter(
		"nbtrust.cull.removed",
		metric.WithDescription("Signatures evicted from the trust cache"),
		metric.WithUnit("{signature}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{signs: signs, checks: checks, unsigns: unsigns, culled: culled}, nil
}

func (m *Metrics) recordSign(ctx context.Context, algo signer.Algorithm, already bool) {
	m.signs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("algorithm", algo.String()),
		attribute.Bool("already_signed", already),
	))
}

func (m *Metrics) recordCheck(ctx context.Context, algo signer.Algorithm, outcome string) {
	m.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("algorithm", algo.String()),
		attribute.String("result", outcome),
	))
}

func (m *Metrics) recordUnsign(ctx context.Context, algo signer.Algorithm) {
	m.unsigns.Add(ctx, 1, metric.WithAttributes(attribute.String("algorithm", algo.String())))
}

func (m *Metrics) recordCull(ctx context.Context, removed int) {
	m.culled.Add(ctx, int64(removed))
}
