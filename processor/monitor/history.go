package monitor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/irfanghat/databricks-industrial-automation-suite/natsclient"
)

const (
	// DefaultStateBucket is the KV bucket monitor state is persisted to
	DefaultStateBucket = "dias_monitor"

	// DefaultQuerySubject answers state queries over NATS request/reply
	DefaultQuerySubject = "monitor.state.query"

	// stateHistoryDepth is how many state snapshots the bucket retains
	// for point-in-time queries
	stateHistoryDepth = 64
)

// StateQuery asks for the monitor's signal state. A zero At returns the
// live state; otherwise the persisted snapshot current at that time.
type StateQuery struct {
	At time.Time `json:"at,omitempty"`
}

// StateReply carries the answer to a StateQuery
type StateReply struct {
	State map[string]SignalState `json:"state,omitempty"`
	AsOf  time.Time              `json:"as_of,omitempty"`
	Error string                 `json:"error,omitempty"`
}

// setupPersistence creates the state bucket and KV store when persistence
// is enabled and no store was injected. Bucket history makes past
// snapshots queryable. Failure degrades to in-memory operation.
func (p *Processor) setupPersistence(ctx context.Context) {
	if p.kvStore != nil || p.config.PersistIntervalMS <= 0 {
		return
	}

	bucket, err := p.natsClient.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  p.config.StateBucket,
		History: stateHistoryDepth,
	})
	if err != nil {
		p.logger.Warn("State persistence unavailable, running in-memory only",
			"bucket", p.config.StateBucket, "error", err)
		return
	}

	p.kvStore = p.natsClient.NewKVStore(bucket)
	p.resolver = natsclient.NewTemporalResolver(ctx, bucket)
}

// startQueryHandler answers state queries over NATS request/reply. Skipped
// when there is no live connection (unit tests with a zero-value client).
func (p *Processor) startQueryHandler(ctx context.Context) {
	conn := p.natsClient.GetConnection()
	if conn == nil {
		return
	}

	sub, err := conn.Subscribe(p.config.QuerySubject, func(msg *nats.Msg) {
		p.handleStateQuery(ctx, msg)
	})
	if err != nil {
		p.logger.Warn("State query handler unavailable",
			"subject", p.config.QuerySubject, "error", err)
		return
	}
	p.querySub = sub
}

func (p *Processor) handleStateQuery(ctx context.Context, msg *nats.Msg) {
	var query StateQuery
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &query); err != nil {
			p.respondStateQuery(msg, StateReply{Error: "invalid query"})
			return
		}
	}

	if query.At.IsZero() {
		p.respondStateQuery(msg, StateReply{State: p.State(), AsOf: time.Now()})
		return
	}

	p.respondStateQuery(msg, p.stateAt(ctx, query.At))
}

// stateAt reconstructs the persisted state that was current at t
func (p *Processor) stateAt(ctx context.Context, t time.Time) StateReply {
	if p.resolver == nil {
		return StateReply{Error: "state history not available"}
	}

	entry, err := p.resolver.GetAtTimestamp(ctx, DefaultStateKey, t)
	if err != nil {
		if err == natsclient.ErrKVKeyNotFound {
			return StateReply{Error: "no state recorded"}
		}
		p.recordError(err)
		return StateReply{Error: "state lookup failed"}
	}

	state := make(map[string]SignalState)
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		p.recordError(err)
		return StateReply{Error: "state lookup failed"}
	}

	return StateReply{State: state, AsOf: entry.Created()}
}

func (p *Processor) respondStateQuery(msg *nats.Msg, reply StateReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		p.recordError(err)
		return
	}
	if err := msg.Respond(data); err != nil {
		p.recordError(err)
	}
}

// stopQueryHandler drains the query subscription and releases the
// resolver's history cache
func (p *Processor) stopQueryHandler() {
	if p.querySub != nil {
		if err := p.querySub.Drain(); err != nil {
			p.logger.Warn("State query drain failed", "error", err)
		}
		p.querySub = nil
	}
	if p.resolver != nil {
		if err := p.resolver.Close(); err != nil {
			p.logger.Warn("State resolver close failed", "error", err)
		}
		p.resolver = nil
	}
}
