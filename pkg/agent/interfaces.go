// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package agent wires the netlink, taskstats, netcapture and procwalk
// packages into a scheduler that periodically snapshots per-container
// process state and publishes it, while holding a live-swappable
// configuration. Grounded on the reference implementation's main.rs tick
// loop (read_monitored_data) and its config.rs Arc<DaemonConfig> swap cell,
// reworked around sync/atomic.Pointer in pkg/config.
package agent

import (
	"context"
	"time"

	"github.com/antimetal/netagent/pkg/common"
	"github.com/antimetal/netagent/pkg/config"
	"github.com/antimetal/netagent/pkg/netcapture"
	"github.com/antimetal/netagent/pkg/procwalk"
)

// Bus publishes one marshaled snapshot chunk for a sensor/cluster pair.
// The scheduler splits each marshaled snapshot into chunks of at most
// MessageChunkSize bytes (chunkMessage) and calls Publish once per chunk.
type Bus interface {
	Publish(ctx context.Context, sensorName, clusterName string, chunk []byte) error
}

// ContainerEnumerator resolves a monitor target's container name to the
// real (init-namespace) pids currently belonging to it. The "/" container
// name is handled by the scheduler directly from a monitor target's
// configured pid list and never reaches an enumerator.
type ContainerEnumerator interface {
	ListPIDs(ctx context.Context, containerName string) ([]common.Pid, error)
}

// Serializer marshals a completed Snapshot for publication.
type Serializer interface {
	Marshal(snapshot *Snapshot) ([]byte, error)
}

// ConfigSource delivers configuration revisions as they change. The
// scheduler stores every received revision into its config.Store; readers
// on the hot path never touch the source directly.
type ConfigSource interface {
	Subscribe(ctx context.Context) (<-chan *config.Config, error)
}

// ContainerSnapshot is one monitor target's process tree, mirroring the
// reference implementation's ContainerStat.
type ContainerSnapshot struct {
	ContainerName string             `json:"container_name"`
	Processes     []procwalk.Process `json:"processes"`
}

// Snapshot is one tick's complete output: every monitored container's
// process tree plus the raw per-interface flow counters accumulated since
// the last tick, mirroring the reference implementation's TotalStat.
type Snapshot struct {
	Containers    []ContainerSnapshot      `json:"container_stats"`
	NetworkStat   *netcapture.NetworkRawStat `json:"network_rawstat"`
	UnixTimestamp int64                    `json:"unix_timestamp"`
}

func newSnapshot(netStat *netcapture.NetworkRawStat, now time.Time) *Snapshot {
	return &Snapshot{
		Containers:    make([]ContainerSnapshot, 0),
		NetworkStat:   netStat,
		UnixTimestamp: now.Unix(),
	}
}
