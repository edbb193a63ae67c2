// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package metrics provides Prometheus metrics for the HDMI matrix bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal tracks the total number of commands sent to the matrix
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_commands_total",
		Help: "Total number of commands sent to the matrix, by command head",
	}, []string{"comhead"})

	// CommandErrors tracks the number of failed matrix commands
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matrix_command_errors_total",
		Help: "Total number of failed matrix commands, by command head",
	}, []string{"comhead"})

	// CommandDuration tracks how long a matrix command exchange takes
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matrix_command_duration_seconds",
		Help:    "Duration of a matrix command round trip in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// PollsTotal tracks the total number of status polls
	PollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_polls_total",
		Help: "Total number of status polls issued to the matrix",
	})

	// PollErrors tracks the number of failed status polls
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_poll_errors_total",
		Help: "Total number of failed status polls",
	})

	// PollsSkipped tracks polls skipped because a command was pending
	PollsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_polls_skipped_total",
		Help: "Total number of status polls skipped due to a pending command",
	})

	// RoutesTotal tracks successful zone-to-source routes
	RoutesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_routes_total",
		Help: "Total number of successful zone routing changes",
	})

	// RouteRejections tracks routes rejected before reaching the device
	RouteRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_route_rejections_total",
		Help: "Total number of route requests rejected for an unknown zone or source",
	})

	// ZoneSource reports the current source id routed to each zone
	ZoneSource = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matrix_zone_source_id",
		Help: "Current input port number routed to each zone (0 when unknown)",
	}, []string{"zone_id", "zone_name"})

	// PowerOn reports the matrix global power state
	PowerOn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_power_on",
		Help: "Matrix power state (1 on, 0 off or unknown)",
	})

	// DeviceAvailable reports whether the matrix is currently reachable
	DeviceAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matrix_device_available",
		Help: "Whether the matrix is considered reachable (1) or unavailable (0)",
	})

	// EventsDropped tracks router events dropped because the channel was full
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_events_dropped_total",
		Help: "Total number of state-change events dropped due to a full channel",
	})

	// MQTTPublishesTotal tracks MQTT state publishes
	MQTTPublishesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_mqtt_publishes_total",
		Help: "Total number of MQTT state publishes",
	})

	// MQTTPublishErrors tracks failed MQTT publishes
	MQTTPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_mqtt_publish_errors_total",
		Help: "Total number of failed MQTT publishes",
	})

	// InfluxDBWritesTotal tracks the total number of event writes to InfluxDB
	InfluxDBWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_influxdb_writes_total",
		Help: "Total number of event writes to InfluxDB",
	})

	// InfluxDBWriteErrors tracks the number of failed writes to InfluxDB
	InfluxDBWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_influxdb_write_errors_total",
		Help: "Total number of failed event writes to InfluxDB",
	})

	// SpooledEvents tracks events diverted to the on-disk spool
	SpooledEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matrix_spooled_events_total",
		Help: "Total number of events spooled to disk while InfluxDB was unavailable",
	})
)
