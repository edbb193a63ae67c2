// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package router

import (
	"sort"

	"github.com/nohassle/hdmi-matrix-bridge/config"
	apperrors "github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
)

// Table is the bidirectional name<->port lookup built once from
// configuration. It is immutable after construction and safe for concurrent
// reads. Name lookups are case-sensitive exact matches.
type Table struct {
	zoneByName   map[string]int
	zoneByID     map[int]string
	sourceByName map[string]int
	sourceByID   map[int]string
	zoneIDs      []int // Sorted
	sourceIDs    []int // Sorted
}

// NewTable builds the lookup table from the validated matrix configuration.
func NewTable(cfg *config.MatrixConfig) *Table {
	t := &Table{
		zoneByName:   make(map[string]int, len(cfg.Zones)),
		zoneByID:     make(map[int]string, len(cfg.Zones)),
		sourceByName: make(map[string]int, len(cfg.Sources)),
		sourceByID:   make(map[int]string, len(cfg.Sources)),
	}

	for id, zone := range cfg.Zones {
		t.zoneByName[zone.Name] = id
		t.zoneByID[id] = zone.Name
		t.zoneIDs = append(t.zoneIDs, id)
	}
	for id, source := range cfg.Sources {
		t.sourceByName[source.Name] = id
		t.sourceByID[id] = source.Name
		t.sourceIDs = append(t.sourceIDs, id)
	}
	sort.Ints(t.zoneIDs)
	sort.Ints(t.sourceIDs)

	return t
}

// ZoneID resolves a zone name to its output port.
func (t *Table) ZoneID(name string) (int, error) {
	id, ok := t.zoneByName[name]
	if !ok {
		return 0, apperrors.NewUnknownZoneError(name)
	}
	return id, nil
}

// SourceID resolves a source name to its input port.
func (t *Table) SourceID(name string) (int, error) {
	id, ok := t.sourceByName[name]
	if !ok {
		return 0, apperrors.NewUnknownSourceError(name)
	}
	return id, nil
}

// ZoneName resolves an output port to its configured name, "" when the port
// is not configured.
func (t *Table) ZoneName(id int) string {
	return t.zoneByID[id]
}

// SourceName resolves an input port to its configured name, "" when the port
// is not configured.
func (t *Table) SourceName(id int) string {
	return t.sourceByID[id]
}

// ZoneIDs returns the configured output ports in ascending order.
func (t *Table) ZoneIDs() []int {
	ids := make([]int, len(t.zoneIDs))
	copy(ids, t.zoneIDs)
	return ids
}

// SourceIDs returns the configured input ports in ascending order.
func (t *Table) SourceIDs() []int {
	ids := make([]int, len(t.sourceIDs))
	copy(ids, t.sourceIDs)
	return ids
}

// ZoneNames returns the configured zone names ordered by port number.
func (t *Table) ZoneNames() []string {
	names := make([]string, 0, len(t.zoneIDs))
	for _, id := range t.zoneIDs {
		names = append(names, t.zoneByID[id])
	}
	return names
}

// SourceNames returns the configured source names ordered by port number.
func (t *Table) SourceNames() []string {
	names := make([]string, 0, len(t.sourceIDs))
	for _, id := range t.sourceIDs {
		names = append(names, t.sourceByID[id])
	}
	return names
}
