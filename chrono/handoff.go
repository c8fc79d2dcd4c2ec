package chrono

import (
	"context"
	"fmt"
	"net/url"

	"github.com/chronosched/chronosched/messaging"
)

// wireEvent is the JSON-safe transport form of an Event. Event itself is an
// interface (AddEvent/RemoveEvent/ExecuteEvent), which encoding/json cannot
// round-trip without a discriminator.
type wireEvent struct {
	Kind string `json:"kind"`
	Job  *Job   `json:"job,omitempty"`
	Name string `json:"name,omitempty"`
}

func toWireEvents(events []Event) []wireEvent {
	out := make([]wireEvent, 0, len(events))
	for _, e := range events {
		switch ev := e.(type) {
		case AddEvent:
			out = append(out, wireEvent{Kind: "add", Job: ev.Job})
		case RemoveEvent:
			out = append(out, wireEvent{Kind: "remove", Name: ev.Name})
		case ExecuteEvent:
			out = append(out, wireEvent{Kind: "execute", Job: ev.Job})
		}
	}
	return out
}

func fromWireEvents(events []wireEvent) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		switch e.Kind {
		case "add":
			out = append(out, AddEvent{Job: e.Job})
		case "remove":
			out = append(out, RemoveEvent{Name: e.Name})
		case "execute":
			out = append(out, ExecuteEvent{Job: e.Job})
		}
	}
	return out
}

// wireHandoff is the JSON payload exchanged between peers for a catalog
// hand-off: the full job set plus the sending registry's undelivered
// backlog, mirroring handoffSnapshot's fields.
type wireHandoff struct {
	Jobs    []*Job      `json:"jobs"`
	Pending []wireEvent `json:"pending"`
}

// HandoffBroker carries JobRegistry hand-off snapshots between cluster peers
// over a messaging.Provider, so BeginHandoff/EndHandoff (spec §4.1/§9) work
// across processes and not just within one. It defaults to an in-memory
// messaging.LocalProvider, which is only useful for same-process tests and
// demos; a real deployment supplies a network-backed Provider for the same
// interface.
type HandoffBroker struct {
	registry *JobRegistry
	provider messaging.Provider
}

// NewHandoffBroker wires registry's hand-off protocol to provider, which must
// already support the scheme peerURL/selfURL will use (messaging.LocalProvider
// supports the "chan" scheme). Setup is called on provider.
func NewHandoffBroker(registry *JobRegistry, provider messaging.Provider) (*HandoffBroker, error) {
	if err := provider.Setup(); err != nil {
		return nil, fmt.Errorf("chrono: setting up hand-off transport: %w", err)
	}
	return &HandoffBroker{registry: registry, provider: provider}, nil
}

// SendTo snapshots the local registry via BeginHandoff and publishes it to
// peerURL, for a peer Listen call to receive and merge via EndHandoff.
func (b *HandoffBroker) SendTo(ctx context.Context, peerURL string) error {
	snap, err := b.registry.BeginHandoff(ctx)
	if err != nil {
		return err
	}
	u, err := url.Parse(peerURL)
	if err != nil {
		return fmt.Errorf("chrono: parsing hand-off peer url: %w", err)
	}
	msg, err := b.provider.NewMessage(u.Scheme)
	if err != nil {
		return fmt.Errorf("chrono: creating hand-off message: %w", err)
	}
	if err := msg.WriteJSON(wireHandoff{Jobs: snap.jobs, Pending: toWireEvents(snap.pending)}); err != nil {
		return fmt.Errorf("chrono: encoding hand-off payload: %w", err)
	}
	return b.provider.Send(u, msg)
}

// Listen registers a listener on selfURL that merges every incoming hand-off
// payload into the local registry via EndHandoff, logging (not failing) on a
// malformed or rejected payload so one bad peer message can't wedge the
// listener.
func (b *HandoffBroker) Listen(selfURL string) error {
	u, err := url.Parse(selfURL)
	if err != nil {
		return fmt.Errorf("chrono: parsing hand-off self url: %w", err)
	}
	return b.provider.AddListener(u, func(msg messaging.Message) {
		var wire wireHandoff
		if err := msg.ReadJSON(&wire); err != nil {
			logger.WarnF("chrono: discarding malformed hand-off payload: %v", err)
			return
		}
		snap := handoffSnapshot{jobs: wire.Jobs, pending: fromWireEvents(wire.Pending)}
		if err := b.registry.EndHandoff(context.Background(), snap); err != nil {
			logger.WarnF("chrono: merging hand-off payload: %v", err)
		}
	})
}
