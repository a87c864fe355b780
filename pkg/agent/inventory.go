// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"context"

	"github.com/antimetal/netagent/pkg/performance"
	"github.com/antimetal/netagent/pkg/performance/collectors"
	"github.com/go-logr/logr"
)

// Inventory runs a lower-frequency sweep of host hardware/topology
// collectors alongside the scheduler's per-tick process snapshot. It
// adapts pkg/performance's collector framework, built for a Kubernetes
// node-inventory daemon, to this agent's process/flow monitoring domain:
// the framework is generic over what a PointCollector reports, so it
// needs no changes, only a different set of registered collectors.
type Inventory struct {
	manager  *performance.Manager
	registry *performance.CollectorRegistry
}

// NewInventory constructs a Manager and registers the CPU, memory, disk
// and network topology collectors. These are one-shot (PointCollector)
// collectors: topology rarely changes between ticks, so the scheduler
// calls Collect on its own, separate cadence rather than every tick.
func NewInventory(log logr.Logger, cfg performance.CollectionConfig, nodeName, clusterName string) (*Inventory, error) {
	cfg.ApplyDefaults()

	mgr, err := performance.NewManager(performance.ManagerOptions{
		Config:      cfg,
		Logger:      log,
		NodeName:    nodeName,
		ClusterName: clusterName,
	})
	if err != nil {
		return nil, err
	}

	memColl, err := collectors.NewMemoryInfoCollector(log, cfg)
	if err != nil {
		return nil, err
	}
	diskColl, err := collectors.NewDiskInfoCollector(log, cfg)
	if err != nil {
		return nil, err
	}
	netColl, err := collectors.NewNetworkInfoCollector(log, cfg)
	if err != nil {
		return nil, err
	}

	for _, c := range []performance.PointCollector{
		collectors.NewCPUInfoCollector(log, cfg),
		memColl,
		diskColl,
		netColl,
	} {
		if err := mgr.RegisterPointCollector(c); err != nil {
			return nil, err
		}
	}

	return &Inventory{manager: mgr, registry: mgr.GetRegistry()}, nil
}

// InventorySnapshot is one sweep's collected topology, keyed by the
// metric type each collector reports under.
type InventorySnapshot map[performance.MetricType]any

// Collect runs every registered point collector once and returns whatever
// each reports. A single collector's failure is logged and skipped rather
// than failing the whole sweep, since a missing NUMA or disk-partition
// reading shouldn't suppress the rest of the inventory.
func (i *Inventory) Collect(ctx context.Context, log logr.Logger) InventorySnapshot {
	out := make(InventorySnapshot, len(i.registry.GetAllPoint()))
	for _, c := range i.registry.GetAllPoint() {
		result, err := c.Collect(ctx)
		if err != nil {
			log.Error(err, "inventory collector failed", "type", c.Type())
			continue
		}
		out[c.Type()] = result
	}
	return out
}
