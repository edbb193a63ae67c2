// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides InfluxDB persistence for matrix state-change
// events, with an on-disk spool covering InfluxDB outages.
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	apperrors "github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/metrics"
)

const (
	eventMeasurement   = "matrix_events"
	healthCheckTimeout = 5 * time.Second
)

// InfluxRecorder writes state-change events to InfluxDB.
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
}

// NewInfluxRecorder creates a recorder and verifies the connection.
func NewInfluxRecorder(url, token, org, bucket string) (*InfluxRecorder, error) {
	client := influxdb2.NewClient(url, token)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		bucket:   bucket,
		org:      org,
	}, nil
}

// WriteEvent writes a single state-change event.
func (r *InfluxRecorder) WriteEvent(ctx context.Context, event *interfaces.RouteEvent) error {
	if event == nil {
		return apperrors.NewStorageError("write", fmt.Errorf("event cannot be nil"))
	}
	if event.Timestamp.IsZero() {
		return apperrors.NewStorageError("write", fmt.Errorf("timestamp cannot be zero"))
	}

	tags := map[string]string{
		"type":   string(event.Type),
		"origin": event.Origin,
	}
	fields := map[string]interface{}{}

	switch event.Type {
	case interfaces.EventRoute:
		tags["zone"] = event.ZoneName
		tags["source"] = event.SourceName
		fields["zone_id"] = event.ZoneID
		fields["source_id"] = event.SourceID
	case interfaces.EventPower:
		fields["power_on"] = event.Power == interfaces.PowerOn
	case interfaces.EventAvailability:
		fields["available"] = event.Available
	default:
		return apperrors.NewStorageError("write", fmt.Errorf("unknown event type %q", event.Type))
	}

	p := influxdb2.NewPoint(eventMeasurement, tags, fields, event.Timestamp)
	if err := r.writeAPI.WritePoint(ctx, p); err != nil {
		return apperrors.NewStorageError("write", err)
	}
	return nil
}

// Flush is a no-op for the blocking write API, kept to satisfy the recorder
// interface.
func (r *InfluxRecorder) Flush() {}

// Close closes the InfluxDB client.
func (r *InfluxRecorder) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	r.client.Close()
}

// Health checks if InfluxDB is healthy.
func (r *InfluxRecorder) Health(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return apperrors.NewStorageError("health", err)
	}
	if health.Status != "pass" {
		return apperrors.NewStorageError("health", fmt.Errorf("status %s", health.Status))
	}
	return nil
}

// SpoolingRecorder wraps an InfluxRecorder with on-disk spooling: events that
// fail to write are spooled and replayed once InfluxDB recovers.
type SpoolingRecorder struct {
	recorder *InfluxRecorder
	spool    *Spool
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ interfaces.EventRecorder = (*SpoolingRecorder)(nil)

const replayInterval = 30 * time.Second

// NewSpoolingRecorder creates the spooling wrapper and starts the background
// replay loop.
func NewSpoolingRecorder(recorder *InfluxRecorder, spool *Spool) *SpoolingRecorder {
	ctx, cancel := context.WithCancel(context.Background())
	sr := &SpoolingRecorder{
		recorder: recorder,
		spool:    spool,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go sr.monitorAndReplay(ctx)
	return sr
}

// WriteEvent writes an event, spooling it when InfluxDB is unavailable.
func (sr *SpoolingRecorder) WriteEvent(ctx context.Context, event *interfaces.RouteEvent) error {
	err := sr.recorder.WriteEvent(ctx, event)
	if err == nil {
		metrics.InfluxDBWritesTotal.Inc()
		return nil
	}

	metrics.InfluxDBWriteErrors.Inc()
	logger.Warn().Err(err).Msg("InfluxDB write failed, spooling event")

	if spoolErr := sr.spool.Write(event); spoolErr != nil {
		logger.Error().Err(spoolErr).Msg("Failed to spool event, data lost")
		return spoolErr
	}
	metrics.SpooledEvents.Inc()
	return nil
}

// monitorAndReplay periodically drains the spool back into InfluxDB.
func (sr *SpoolingRecorder) monitorAndReplay(ctx context.Context) {
	defer close(sr.done)

	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sr.spool.Size() == 0 {
				continue
			}
			healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := sr.recorder.Health(healthCtx)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Msg("InfluxDB still unhealthy, holding spooled events")
				continue
			}
			if err := sr.replaySpooled(ctx); err != nil {
				logger.Warn().Err(err).Msg("Spool replay incomplete")
			}
		}
	}
}

// replaySpooled writes spooled events back to InfluxDB in order.
func (sr *SpoolingRecorder) replaySpooled(ctx context.Context) error {
	events, err := sr.spool.List()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	logger.Info().Int("count", len(events)).Msg("Replaying spooled events to InfluxDB")

	for _, spooled := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sr.recorder.WriteEvent(ctx, spooled.Event); err != nil {
			return err
		}
		if err := sr.spool.Delete(spooled.ID); err != nil {
			logger.Warn().Err(err).Str("id", spooled.ID).Msg("Failed to delete replayed spool entry")
		}
	}

	logger.Info().Int("count", len(events)).Msg("Spool replay complete")
	return nil
}

// Flush delegates to the underlying recorder.
func (sr *SpoolingRecorder) Flush() {
	sr.recorder.Flush()
}

// Close stops the replay loop and closes the underlying recorder.
func (sr *SpoolingRecorder) Close() {
	sr.cancel()
	<-sr.done
	sr.recorder.Close()
}

// Health delegates to the underlying recorder.
func (sr *SpoolingRecorder) Health(ctx context.Context) error {
	return sr.recorder.Health(ctx)
}
