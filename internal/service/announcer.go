// Package service holds the glue between the decision core and its outer
// surfaces.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/agentdesk/internal/agent"
	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// Broadcaster pushes a payload to local subscribers. The ws hub implements it.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Announcer publishes manager events. With a bus, events go to Redis and
// reach local clients through the hub's subscription; without one they go
// to the hub directly. Decisions are also appended to the decision stream
// and every event lands in the audit log when one is configured.
type Announcer struct {
	bus    domain.SignalBus
	hub    Broadcaster
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAnnouncer creates an Announcer. Any dependency may be nil.
func NewAnnouncer(bus domain.SignalBus, hub Broadcaster, audit domain.AuditStore, logger *slog.Logger) *Announcer {
	return &Announcer{
		bus:    bus,
		hub:    hub,
		audit:  audit,
		logger: logger.With(slog.String("component", "announcer")),
	}
}

type fillEvent struct {
	Fill     domain.Fill     `json:"fill"`
	Position domain.Position `json:"position"`
}

// OnDecision announces a non-idle tick.
func (a *Announcer) OnDecision(ctx context.Context, rep agent.TickReport) {
	payload, err := json.Marshal(rep)
	if err != nil {
		return
	}
	a.publish(ctx, domain.ChannelDecision, payload)
	if a.bus != nil {
		if err := a.bus.StreamAppend(ctx, domain.StreamDecisions, payload); err != nil {
			a.logger.WarnContext(ctx, "decision stream append failed", slog.String("error", err.Error()))
		}
	}
	if rep.Outcome == agent.OutcomeSubmitted || rep.Outcome == agent.OutcomeRejected {
		detail := map[string]any{
			"symbol":   rep.Symbol,
			"revision": rep.Revision,
			"outcome":  string(rep.Outcome),
		}
		if rep.Verdict != nil {
			detail["verdict"] = string(rep.Verdict.Kind)
			detail["reason"] = string(rep.Verdict.Reason)
			detail["intent_id"] = rep.Verdict.Intent.ID
		}
		a.log(ctx, "decision", detail)
	}
}

// OnRevision announces a newly active strategy revision.
func (a *Announcer) OnRevision(ctx context.Context, cfg domain.StrategyConfig) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	a.publish(ctx, domain.ChannelRevision, payload)
	a.log(ctx, "revision", map[string]any{"name": cfg.Name, "revision": cfg.Revision})
}

// OnFill announces an applied fill with the resulting position.
func (a *Announcer) OnFill(ctx context.Context, fill domain.Fill, pos domain.Position) {
	payload, err := json.Marshal(fillEvent{Fill: fill, Position: pos})
	if err != nil {
		return
	}
	a.publish(ctx, domain.ChannelFill, payload)
	a.log(ctx, "fill", map[string]any{
		"fill_id":   fill.ID,
		"intent_id": fill.IntentID,
		"symbol":    fill.Symbol,
		"side":      string(fill.Side),
		"quantity":  fill.Quantity,
		"price":     fill.Price,
	})
}

func (a *Announcer) publish(ctx context.Context, channel string, payload []byte) {
	if a.bus != nil {
		if err := a.bus.Publish(ctx, channel, payload); err != nil {
			a.logger.WarnContext(ctx, "publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if a.hub != nil {
		a.hub.Broadcast(channel, payload)
	}
}

func (a *Announcer) log(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

var _ agent.EventSink = (*Announcer)(nil)
