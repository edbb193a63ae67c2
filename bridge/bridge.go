// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package bridge exposes the matrix zones to a smart-home platform as MQTT
// entities using Home Assistant MQTT discovery.
//
// One select entity is published per configured zone (options are the
// configured source names) plus one switch entity for global power. Commands
// arrive on per-zone set topics, the power set topic, and a JSON set_zone
// topic mirroring the integration's custom service call.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/metrics"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	commandTimeout  = 10 * time.Second
	disconnectQuiet = 1000 // milliseconds
)

// Config holds MQTT bridge settings.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// setZoneRequest is the payload of the set_zone command topic, mirroring the
// platform's custom action.
type setZoneRequest struct {
	Zone   string `json:"zone"`
	Source string `json:"source"`
}

// Bridge connects the zone router to an MQTT broker with HA autodiscovery.
type Bridge struct {
	client          pahomqtt.Client
	router          interfaces.ZoneRouter
	host            string
	prefix          string
	discoveryPrefix string

	// topicToZone maps sanitized topic segments back to configured names.
	topicToZone map[string]string

	once sync.Once
}

// New creates and connects an MQTT bridge for the given router. host is the
// matrix address, used only to build stable unique ids.
func New(router interfaces.ZoneRouter, host string, cfg Config) (*Bridge, error) {
	b := &Bridge{
		router:          router,
		host:            host,
		prefix:          cfg.TopicPrefix,
		discoveryPrefix: cfg.DiscoveryPrefix,
		topicToZone:     make(map[string]string),
	}
	for _, zone := range router.ZoneNames() {
		b.topicToZone[topicName(zone)] = zone
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			logger.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
			b.publishBridgeState(b.router.State().Available)
			b.publishDiscovery()
			b.subscribeCommands()
			b.publishFullState()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			logger.Warn().Err(err).Msg("MQTT connection lost")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// The connect handler fires before the connect token completes, so the
	// client must be in place before Connect is called.
	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	return b, nil
}

// Stop publishes offline state and disconnects.
func (b *Bridge) Stop() {
	b.once.Do(func() {
		b.publish(b.prefix+"/bridge/state", []byte("offline"), true)
		b.client.Disconnect(disconnectQuiet)
		logger.Info().Msg("MQTT bridge stopped")
	})
}

// HandleEvent forwards a confirmed state change to its retained state topic.
func (b *Bridge) HandleEvent(event *interfaces.RouteEvent) {
	switch event.Type {
	case interfaces.EventRoute:
		b.publishZoneState(event.ZoneName, event.SourceName)
	case interfaces.EventPower:
		b.publishPowerState(event.Power)
	case interfaces.EventAvailability:
		b.publishBridgeState(event.Available)
	}
}

// publishDiscovery publishes HA discovery configs for every zone plus the
// power switch.
func (b *Bridge) publishDiscovery() {
	sources := b.router.SourceNames()
	for _, zone := range b.router.ZoneNames() {
		msg := buildZoneDiscovery(b.discoveryPrefix, b.prefix, b.host, zone, sources)
		b.publish(msg.Topic, msg.Payload, true)
	}
	msg := buildPowerDiscovery(b.discoveryPrefix, b.prefix, b.host)
	b.publish(msg.Topic, msg.Payload, true)
	logger.Info().Int("zones", len(b.router.ZoneNames())).Msg("Published HA discovery")
}

// publishFullState publishes the current snapshot for every zone and power.
func (b *Bridge) publishFullState() {
	state := b.router.State()
	for _, zone := range state.Zones {
		if zone.SourceName != "" {
			b.publishZoneState(zone.ZoneName, zone.SourceName)
		}
	}
	if state.Power != interfaces.PowerUnknown {
		b.publishPowerState(state.Power)
	}
}

func (b *Bridge) publishZoneState(zoneName, sourceName string) {
	b.publish(b.prefix+"/"+topicName(zoneName), []byte(sourceName), true)
}

func (b *Bridge) publishPowerState(power interfaces.PowerState) {
	payload := "OFF"
	if power == interfaces.PowerOn {
		payload = "ON"
	}
	b.publish(b.prefix+"/power", []byte(payload), true)
}

func (b *Bridge) publishBridgeState(available bool) {
	state := "online"
	if !available {
		state = "offline"
	}
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

// subscribeCommands subscribes the per-zone set topics, the power set topic
// and the set_zone action topic.
func (b *Bridge) subscribeCommands() {
	for segment, zone := range b.topicToZone {
		topic := b.prefix + "/" + segment + "/set"
		zoneName := zone
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleZoneCommand(zoneName, msg.Payload())
		})
	}

	b.client.Subscribe(b.prefix+"/power/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handlePowerCommand(msg.Payload())
	})

	b.client.Subscribe(b.prefix+"/set_zone", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleSetZone(msg.Payload())
	})
}

// handleZoneCommand routes a zone to the source named by the payload.
func (b *Bridge) handleZoneCommand(zoneName string, payload []byte) {
	sourceName := strings.TrimSpace(string(payload))
	if sourceName == "" {
		logger.Warn().Str("zone", zoneName).Msg("Empty source in zone command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := b.router.Route(ctx, zoneName, sourceName); err != nil {
		logger.Warn().Err(err).Str("zone", zoneName).Str("source", sourceName).
			Msg("Zone command failed")
	}
}

// handlePowerCommand handles ON/OFF payloads on the power set topic.
func (b *Bridge) handlePowerCommand(payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch strings.ToUpper(strings.TrimSpace(string(payload))) {
	case "ON":
		if err := b.router.SetPower(ctx, true); err != nil {
			logger.Warn().Err(err).Msg("Power on command failed")
		}
	case "OFF":
		if err := b.router.SetPower(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("Power off command failed")
		}
	default:
		logger.Warn().Str("payload", string(payload)).Msg("Invalid power command payload")
	}
}

// handleSetZone handles the JSON set_zone action payload.
func (b *Bridge) handleSetZone(payload []byte) {
	var req setZoneRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		logger.Warn().Err(err).Msg("Invalid set_zone JSON")
		return
	}
	if req.Zone == "" || req.Source == "" {
		logger.Warn().Msg("set_zone requires both zone and source")
		return
	}
	b.handleZoneCommand(req.Zone, []byte(req.Source))
}

// publish sends a message and reports the outcome asynchronously, so slow
// brokers never block event handling.
func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			metrics.MQTTPublishErrors.Inc()
			logger.Warn().Str("topic", topic).Msg("MQTT publish timeout")
		} else if err := token.Error(); err != nil {
			metrics.MQTTPublishErrors.Inc()
			logger.Warn().Err(err).Str("topic", topic).Msg("MQTT publish error")
		} else {
			metrics.MQTTPublishesTotal.Inc()
		}
	}()
}
