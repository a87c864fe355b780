// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antimetal/netagent/pkg/common"
	"github.com/antimetal/netagent/pkg/config"
	"github.com/antimetal/netagent/pkg/netcapture"
	"github.com/antimetal/netagent/pkg/procwalk"
	"github.com/antimetal/netagent/pkg/taskstats"
	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerOptions collects the dependencies a Scheduler is built from.
// Enumerator, Serializer and ConfigSource may be left nil to fall back to
// the defaults a standalone agent uses (DockerEnumerator, JSONSerializer,
// no live config updates beyond the seed Config).
type SchedulerOptions struct {
	Logger logr.Logger
	Config config.Config

	ProcPath string
	Walker   *procwalk.Walker
	Engine   *netcapture.Engine

	Bus         Bus
	Enumerator  ContainerEnumerator
	Serializer  Serializer
	ConfigSrc   ConfigSource
	Metrics     prometheus.Registerer

	// Inventory, if set, is swept on its own InventoryInterval cadence
	// alongside the per-tick process/flow snapshot. Left nil, the
	// scheduler runs exactly the tick loop the reference client has.
	Inventory *Inventory
}

// Scheduler runs the agent's tick loop: on every PublishInterval it builds
// a Snapshot of every configured monitor target's process tree joined
// against the current flow counters, then publishes it through Bus.
// Grounded on main.rs's read_monitored_data / monitoring_task, with the
// reference's `static mut GLOBAL_CONFIG` swap replaced by config.Store.
type Scheduler struct {
	log logr.Logger

	store      *config.Store
	procPath   string
	walker     *procwalk.Walker
	engine     *netcapture.Engine
	bus        Bus
	enumerator ContainerEnumerator
	serializer Serializer
	configSrc  ConfigSource
	inventory  *Inventory

	metrics *metrics
}

// NewScheduler validates and wires opts into a runnable Scheduler.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Walker == nil {
		return nil, fmt.Errorf("agent: Walker is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("agent: Engine is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("agent: Bus is required")
	}

	opts.Config.ApplyDefaults()
	store := config.NewStore(opts.Config)

	enumerator := opts.Enumerator
	if enumerator == nil {
		enumerator = NewDockerEnumerator(store)
	}
	serializer := opts.Serializer
	if serializer == nil {
		serializer = JSONSerializer{}
	}

	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Scheduler{
		log:        opts.Logger.WithName("scheduler"),
		store:      store,
		procPath:   opts.ProcPath,
		walker:     opts.Walker,
		engine:     opts.Engine,
		bus:        opts.Bus,
		enumerator: enumerator,
		serializer: serializer,
		configSrc:  opts.ConfigSrc,
		inventory:  opts.Inventory,
		metrics:    newMetrics(reg),
	}, nil
}

// ConfigStore exposes the live config cell so callers (e.g. an inventory
// sweep sharing the same interval) can read the current revision.
func (s *Scheduler) ConfigStore() *config.Store {
	return s.store
}

// Start blocks until ctx is canceled, driving the tick loop and (if a
// ConfigSource was supplied) the config-subscriber goroutine concurrently.
// Named Start, not Run, so a Scheduler satisfies controller-runtime's
// manager.Runnable directly, the same as internal/intake's Worker.
func (s *Scheduler) Start(ctx context.Context) error {
	var wg sync.WaitGroup

	if s.configSrc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.watchConfig(ctx)
		}()
	}

	if s.inventory != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.inventoryLoop(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.tickLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) watchConfig(ctx context.Context) {
	ch, err := s.configSrc.Subscribe(ctx)
	if err != nil {
		s.log.Error(err, "failed to subscribe to config source")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok {
				return
			}
			cfg.ApplyDefaults()
			s.store.Store(*cfg)
			s.log.Info("config updated")
		}
	}
}

// inventoryLoop runs the auxiliary node-topology sweep on its own, longer
// cadence than the process/flow tick loop. It only logs the result for now;
// cmd/main.go's bus wiring has nowhere to attach node-level context to a
// per-process Snapshot yet, so the sweep exists as a standalone diagnostic
// surface (and a future home for enriching ContainerSnapshot with node
// topology) rather than being folded into every published chunk.
func (s *Scheduler) inventoryLoop(ctx context.Context) {
	cfg, _ := s.store.Load()
	ticker := time.NewTicker(cfg.InventoryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := s.inventory.Collect(ctx, s.log.WithName("inventory"))
			s.log.V(1).Info("inventory sweep complete", "collectors", len(snapshot))

			cfg, _ = s.store.Load()
			ticker.Reset(cfg.InventoryInterval)
		}
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	cfg, _ := s.store.Load()
	ticker := time.NewTicker(cfg.PublishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.tick(ctx); err != nil {
				s.metrics.tickErrors.Inc()
				s.log.Error(err, "tick failed")
			}
			s.metrics.tickDuration.Observe(time.Since(start).Seconds())

			// A config reload may have changed the publish interval;
			// rebuild the ticker rather than running at a stale cadence.
			cfg, _ = s.store.Load()
			ticker.Reset(cfg.PublishInterval)
		}
	}
}

// tick is one pass of main.rs's read_monitored_data: snapshot the
// interfaces, walk every monitor target's process tree, marshal and
// publish.
func (s *Scheduler) tick(ctx context.Context) error {
	cfg, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("agent: load config: %w", err)
	}

	netStat, err := s.engine.Snapshot()
	if err != nil {
		return fmt.Errorf("agent: capture snapshot: %w", err)
	}

	snapshot := newSnapshot(netStat, time.Now())

	for _, target := range cfg.MonitorTargets {
		pids, err := s.resolveTargetPIDs(ctx, cfg, target)
		if err != nil {
			s.log.Error(err, "failed to resolve monitor target pids", "container", target.ContainerName)
			continue
		}

		processes, err := s.walkProcesses(pids, netStat)
		if err != nil {
			s.log.Error(err, "failed to walk process tree", "container", target.ContainerName)
			continue
		}

		snapshot.Containers = append(snapshot.Containers, ContainerSnapshot{
			ContainerName: target.ContainerName,
			Processes:     processes,
		})
	}

	netStat.RemoveUnusedUniConnectionStats()
	s.metrics.flowsPerSnapshot.Set(float64(netStat.FlowCount()))

	payload, err := s.serializer.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("agent: marshal snapshot: %w", err)
	}

	// cfg was loaded once at the top of this tick, so a config swap that
	// lands mid-tick cannot change which filter this payload publishes
	// under: the filter in effect when the tick started is the filter it
	// emits under, even if a subscriber pushes a new revision before
	// publish returns.
	payload, err = ApplyOutputFilter(payload, cfg.Filter)
	if err != nil {
		return fmt.Errorf("agent: apply output filter: %w", err)
	}

	return s.publish(ctx, cfg, payload)
}

// resolveTargetPIDs mirrors read_monitored_data's per-target branch: the
// "/" container name uses the configured pid list directly (already in the
// init pid namespace); every other name is resolved through Enumerator and,
// unless OldKernel, filtered down to the pids the target's pid_list names.
func (s *Scheduler) resolveTargetPIDs(ctx context.Context, cfg config.Config, target config.MonitorTarget) ([]common.Pid, error) {
	if target.ContainerName == "/" {
		return target.PidList, nil
	}

	realPids, err := s.enumerator.ListPIDs(ctx, target.ContainerName)
	if err != nil {
		return nil, err
	}
	if cfg.OldKernel {
		return realPids, nil
	}
	return FilterByNamespace(s.procPath, realPids, target.PidList), nil
}

// walkProcesses runs GetRealProc/IterateProcTree over every root pid not
// already covered by a prior root's subtree, mirroring
// get_processes_stats's iterated_pids de-duplication.
func (s *Scheduler) walkProcesses(realPids []common.Pid, netStat *netcapture.NetworkRawStat) ([]procwalk.Process, error) {
	seen := make(map[common.Pid]bool)
	var processes []procwalk.Process

	for _, realPid := range realPids {
		if seen[realPid] {
			continue
		}
		root, err := s.walker.GetRealProc(realPid, netStat)
		if err != nil {
			s.log.V(1).Info("failed to read process, skipping", "pid", realPid, "error", err.Error())
			continue
		}

		subtree, err := s.walker.IterateProcTree(root, netStat)
		if err != nil {
			return nil, err
		}
		for _, p := range subtree {
			seen[p.RealPid] = true
		}
		processes = append(processes, subtree...)
	}
	return processes, nil
}

// publish hands payload to Bus, chunked per cfg.MessageChunkSize, retrying
// each chunk with exponential backoff (the only retry policy besides
// netlink family discovery this agent needs — a transient broker hiccup
// shouldn't drop a whole tick's data). In DevMode, chunks are written to
// ./results instead, matching main.rs's dev_flag branch.
func (s *Scheduler) publish(ctx context.Context, cfg config.Config, payload []byte) error {
	chunks := chunkMessage(payload, cfg.MessageChunkSize)

	for i, chunk := range chunks {
		if cfg.DevMode {
			path := filepath.Join("results", fmt.Sprintf("chunk_%d.json", i))
			if err := os.WriteFile(path, chunk, 0o644); err != nil {
				return fmt.Errorf("agent: write dev chunk: %w", err)
			}
			continue
		}

		_, err := backoff.Retry(ctx, func() (bool, error) {
			if err := s.bus.Publish(ctx, cfg.SensorName, cfg.ClusterName, chunk); err != nil {
				s.log.Error(err, "failed to publish snapshot chunk, retrying", "chunk", i)
				return false, err
			}
			return true, nil
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
		if err != nil {
			return fmt.Errorf("agent: publish chunk %d: %w", i, err)
		}
	}
	return nil
}

// DialNetlinkFamily retries netlink family discovery at startup: the
// TASKSTATS family isn't visible until its kernel module has finished
// loading, a transient race that's exactly what backoff is for, as
// opposed to a socket bind failure, which is fatal and never retried.
func DialNetlinkFamily(ctx context.Context, recvTimeout time.Duration) (*taskstats.Client, error) {
	return backoff.Retry(ctx, func() (*taskstats.Client, error) {
		return taskstats.NewClient(recvTimeout)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()))
}
