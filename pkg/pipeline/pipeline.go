// Package pipeline wires the classifier, filter, transformer, and sink into
// the per-frame processing order the rest of the system relies on.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/classifier"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/filter"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/model"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/sink"
	"github.com/JeremiahJRRoss/polaris-device-subclient/pkg/transform"
)

// Source is the subset of connection.Connection the pipeline depends on.
// Satisfied by *connection.Connection; a fake implementation drives tests.
type Source interface {
	Subscribe(ctx context.Context) <-chan string
	SubscriptionID() string
	RequestShutdown()
}

// Stats tallies what the pipeline has done, for dry-run reporting and
// operational logging.
type Stats struct {
	Received    int
	Transformed int
	Malformed   int
	Filtered    int
}

// Pipeline drives raw frames from a connection through classify → filter →
// transform → sink, in that strict per-frame order.
type Pipeline struct {
	source    Source
	filter    *filter.Filter
	transform *transform.Transformer
	sink      sink.Sink
	logger    *slog.Logger

	instanceID string

	// DryRunLimit, when non-zero, stops the pipeline after this many
	// records have been written to the sink.
	DryRunLimit int
}

// New builds a Pipeline. source.SubscriptionID is called lazily for every
// frame so it always reflects the connection's current subscription id (it
// changes across reconnects).
func New(
	source Source,
	f *filter.Filter,
	tr *transform.Transformer,
	s sink.Sink,
	instanceID string,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:     source,
		filter:     f,
		transform:  tr,
		sink:       s,
		logger:     logger,
		instanceID: instanceID,
	}
}

// Run consumes frames from the connection until ctx is cancelled, shutdown
// is requested, or (in dry-run mode) the record limit is reached. It
// returns the final Stats.
func (p *Pipeline) Run(ctx context.Context) Stats {
	var stats Stats

	frames := p.source.Subscribe(ctx)
	for raw := range frames {
		result := classifier.Classify(raw, p.instanceID, p.source.SubscriptionID())
		stats.Received++

		if result.Malformed != nil {
			stats.Malformed++
			if err := p.writeMalformed(*result.Malformed); err != nil {
				p.logger.Error("failed to write malformed record", "error", err)
			}
			if p.dryRunLimitReached(stats) {
				break
			}
			continue
		}

		if result.Device == nil {
			continue // protocol message, nothing to emit
		}

		if p.filter.Apply(result.Device) == nil {
			stats.Filtered++
			continue
		}

		line, err := p.transform.Transform(result.Device)
		if err != nil {
			p.logger.Error("failed to transform device payload", "error", err)
			continue
		}
		if err := p.sink.Write(line); err != nil {
			p.logger.Error("failed to write state-change record", "error", err)
			continue
		}
		stats.Transformed++

		if p.dryRunLimitReached(stats) {
			break
		}
	}

	return stats
}

func (p *Pipeline) writeMalformed(ev model.MalformedEvent) error {
	line, err := p.transform.TransformMalformed(ev)
	if err != nil {
		return err
	}
	return p.sink.Write(line)
}

func (p *Pipeline) dryRunLimitReached(stats Stats) bool {
	if p.DryRunLimit <= 0 {
		return false
	}
	written := stats.Transformed + stats.Malformed
	if written >= p.DryRunLimit {
		p.source.RequestShutdown()
		return true
	}
	return false
}
