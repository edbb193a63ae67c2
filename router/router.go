// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package router implements the zone-source router: the translation layer
// between human-facing zone/source names and device-facing port numbers.
//
// The router holds the immutable naming table, the last-known device state,
// and a buffered event channel carrying confirmed state changes. State is
// mutated only by successful device commands or successful status polls,
// never inferred from a failed or unacknowledged operation.
package router

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/metrics"
)

const (
	originCommand = "command"
	originPoll    = "poll"
)

// Router translates name-level routing requests into matrix commands and
// device responses back into entity state. Safe for concurrent use by
// multiple entities.
type Router struct {
	table                 *Table
	controller            interfaces.MatrixController
	availabilityThreshold int

	// pendingCommands lets the poller yield to user-initiated commands.
	pendingCommands atomic.Int32

	mu           sync.RWMutex
	power        interfaces.PowerState
	zoneSources  map[int]int // output port -> input port, 0 when unknown
	available    bool
	pollFailures int
	updatedAt    time.Time

	eventsMu sync.Mutex
	events   chan *interfaces.RouteEvent
	closed   bool
}

var _ interfaces.ZoneRouter = (*Router)(nil)

// New creates a router over the given controller and naming table.
// availabilityThreshold is the number of consecutive poll failures after
// which the device is reported unavailable.
func New(table *Table, controller interfaces.MatrixController, eventsChannelSize, availabilityThreshold int) *Router {
	r := &Router{
		table:                 table,
		controller:            controller,
		availabilityThreshold: availabilityThreshold,
		power:                 interfaces.PowerUnknown,
		zoneSources:           make(map[int]int, len(table.ZoneIDs())),
		available:             true,
		events:                make(chan *interfaces.RouteEvent, eventsChannelSize),
	}
	for _, id := range table.ZoneIDs() {
		r.zoneSources[id] = 0
	}
	metrics.DeviceAvailable.Set(1)
	return r
}

// Route switches the named zone to the named source. Unknown names are
// rejected without contacting the device. On acknowledgement the cached
// state for the zone is updated and a route event is emitted.
func (r *Router) Route(ctx context.Context, zoneName, sourceName string) error {
	zoneID, err := r.table.ZoneID(zoneName)
	if err != nil {
		metrics.RouteRejections.Inc()
		return err
	}
	sourceID, err := r.table.SourceID(sourceName)
	if err != nil {
		metrics.RouteRejections.Inc()
		return err
	}

	r.pendingCommands.Add(1)
	defer r.pendingCommands.Add(-1)

	logger.Info().Str("zone", zoneName).Int("zone_id", zoneID).
		Str("source", sourceName).Int("source_id", sourceID).
		Msg("Routing zone to source")

	if err := r.controller.SwitchZone(ctx, zoneID, sourceID); err != nil {
		logger.Error().Err(err).Str("zone", zoneName).Str("source", sourceName).
			Msg("Route command failed")
		return err
	}

	r.mu.Lock()
	r.zoneSources[zoneID] = sourceID
	r.updatedAt = time.Now()
	r.restoreAvailabilityLocked()
	r.mu.Unlock()

	metrics.RoutesTotal.Inc()
	metrics.ZoneSource.WithLabelValues(strconv.Itoa(zoneID), zoneName).Set(float64(sourceID))

	r.emit(&interfaces.RouteEvent{
		Type:       interfaces.EventRoute,
		ZoneID:     zoneID,
		ZoneName:   zoneName,
		SourceID:   sourceID,
		SourceName: sourceName,
		Origin:     originCommand,
		Timestamp:  time.Now(),
	})
	return nil
}

// SetPower toggles the matrix global power state.
func (r *Router) SetPower(ctx context.Context, on bool) error {
	r.pendingCommands.Add(1)
	defer r.pendingCommands.Add(-1)

	if err := r.controller.SetPower(ctx, on); err != nil {
		logger.Error().Err(err).Bool("on", on).Msg("Power command failed")
		return err
	}

	power := interfaces.PowerOff
	if on {
		power = interfaces.PowerOn
	}

	r.mu.Lock()
	changed := r.power != power
	r.power = power
	r.updatedAt = time.Now()
	r.restoreAvailabilityLocked()
	r.mu.Unlock()

	if power == interfaces.PowerOn {
		metrics.PowerOn.Set(1)
	} else {
		metrics.PowerOn.Set(0)
	}

	if changed {
		r.emit(&interfaces.RouteEvent{
			Type:      interfaces.EventPower,
			Power:     power,
			Origin:    originCommand,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// Refresh polls the device for power and per-zone routing and replaces the
// cached state. The poll is skipped when a command is pending: commands have
// priority and the next tick will catch up.
func (r *Router) Refresh(ctx context.Context) error {
	if r.pendingCommands.Load() > 0 {
		metrics.PollsSkipped.Inc()
		return errors.ErrPollSkipped
	}

	metrics.PollsTotal.Inc()

	status, err := r.controller.Status(ctx)
	if err != nil {
		r.recordPollFailure(err)
		return err
	}
	outputs, err := r.controller.OutputStatus(ctx)
	if err != nil {
		r.recordPollFailure(err)
		return err
	}

	now := time.Now()
	var changes []*interfaces.RouteEvent

	r.mu.Lock()
	r.pollFailures = 0

	if r.power != status.Power {
		r.power = status.Power
		changes = append(changes, &interfaces.RouteEvent{
			Type:      interfaces.EventPower,
			Power:     status.Power,
			Origin:    originPoll,
			Timestamp: now,
		})
	}

	for _, zoneID := range r.table.ZoneIDs() {
		sourceID := outputs.AllSources[zoneID-1]
		if r.zoneSources[zoneID] == sourceID {
			continue
		}
		r.zoneSources[zoneID] = sourceID
		changes = append(changes, &interfaces.RouteEvent{
			Type:       interfaces.EventRoute,
			ZoneID:     zoneID,
			ZoneName:   r.table.ZoneName(zoneID),
			SourceID:   sourceID,
			SourceName: r.table.SourceName(sourceID),
			Origin:     originPoll,
			Timestamp:  now,
		})
	}

	r.updatedAt = now
	if !r.available {
		r.available = true
		changes = append(changes, &interfaces.RouteEvent{
			Type:      interfaces.EventAvailability,
			Available: true,
			Origin:    originPoll,
			Timestamp: now,
		})
		logger.Info().Msg("Matrix reachable again")
	}
	r.mu.Unlock()

	if status.Power == interfaces.PowerOn {
		metrics.PowerOn.Set(1)
	} else {
		metrics.PowerOn.Set(0)
	}
	metrics.DeviceAvailable.Set(1)
	for _, event := range changes {
		if event.Type == interfaces.EventRoute {
			metrics.ZoneSource.WithLabelValues(strconv.Itoa(event.ZoneID), event.ZoneName).
				Set(float64(event.SourceID))
		}
		r.emit(event)
	}
	return nil
}

// recordPollFailure counts consecutive poll failures and flips availability
// once the threshold is crossed. Cached routing state is left untouched.
func (r *Router) recordPollFailure(err error) {
	metrics.PollErrors.Inc()

	r.mu.Lock()
	r.pollFailures++
	flip := r.available && r.pollFailures >= r.availabilityThreshold
	if flip {
		r.available = false
	}
	failures := r.pollFailures
	r.mu.Unlock()

	logger.Warn().Err(err).Int("consecutive_failures", failures).Msg("Status poll failed")

	if flip {
		metrics.DeviceAvailable.Set(0)
		logger.Error().Int("consecutive_failures", failures).
			Msg("Matrix marked unavailable")
		r.emit(&interfaces.RouteEvent{
			Type:      interfaces.EventAvailability,
			Available: false,
			Origin:    originPoll,
			Timestamp: time.Now(),
		})
	}
}

// restoreAvailabilityLocked resets the failure counter after any successful
// command. Callers must hold r.mu.
func (r *Router) restoreAvailabilityLocked() {
	r.pollFailures = 0
	if !r.available {
		r.available = true
		metrics.DeviceAvailable.Set(1)
		go r.emit(&interfaces.RouteEvent{
			Type:      interfaces.EventAvailability,
			Available: true,
			Origin:    originCommand,
			Timestamp: time.Now(),
		})
	}
}

// State returns a snapshot of the last-known device state.
func (r *Router) State() interfaces.DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := interfaces.DeviceState{
		Power:     r.power,
		Available: r.available,
		UpdatedAt: r.updatedAt,
		Zones:     make([]interfaces.ZoneState, 0, len(r.zoneSources)),
	}
	for _, zoneID := range r.table.ZoneIDs() {
		sourceID := r.zoneSources[zoneID]
		state.Zones = append(state.Zones, interfaces.ZoneState{
			ZoneID:     zoneID,
			ZoneName:   r.table.ZoneName(zoneID),
			SourceID:   sourceID,
			SourceName: r.table.SourceName(sourceID),
		})
	}
	return state
}

// Events returns the channel carrying confirmed state changes.
func (r *Router) Events() <-chan *interfaces.RouteEvent {
	return r.events
}

// ZoneNames returns the configured zone names ordered by port number.
func (r *Router) ZoneNames() []string {
	return r.table.ZoneNames()
}

// SourceNames returns the configured source names ordered by port number.
func (r *Router) SourceNames() []string {
	return r.table.SourceNames()
}

// Close closes the events channel. No events are emitted afterwards.
func (r *Router) Close() {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.events)
	logger.Info().Msg("Router closed, events channel released")
}

// emit delivers an event without blocking; when the channel is full the
// event is dropped and counted.
func (r *Router) emit(event *interfaces.RouteEvent) {
	r.eventsMu.Lock()
	defer r.eventsMu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- event:
	default:
		metrics.EventsDropped.Inc()
		logger.Warn().Str("type", string(event.Type)).Msg("Events channel full, dropping event")
	}
}
