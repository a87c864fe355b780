// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package netcapture

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/gopacket/pcap"
)

// Config tunes the capture engine, matching the reference client's
// capture_size_limit and the two receive-timeout knobs.
type Config struct {
	SnapshotLen           int32
	CaptureReadTimeout    time.Duration
	ControlQueryTimeout   time.Duration
}

// DefaultConfig returns conservative capture parameters suitable for
// host-resident monitoring.
func DefaultConfig() Config {
	return Config{
		SnapshotLen:         262144,
		CaptureReadTimeout:  time.Second,
		ControlQueryTimeout: 5 * time.Second,
	}
}

// ifaceCapture tracks one interface's capture goroutine. Rather than
// inferring liveness from an Arc strong-count (the reference client's
// approach), the goroutine is told to stop via closing done, and reports
// its own exit via stopped.
type ifaceCapture struct {
	iface   Interface
	mu      sync.Mutex
	pending map[UniConnection]UniConnectionStat

	done    chan struct{}
	stopped chan struct{}
}

func newIfaceCapture(iface Interface) *ifaceCapture {
	return &ifaceCapture{
		iface:   iface,
		pending: make(map[UniConnection]UniConnectionStat),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// take atomically removes and returns the accumulated flow stats, leaving
// the table empty for the next collection window.
func (ic *ifaceCapture) take() map[UniConnection]UniConnectionStat {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	taken := ic.pending
	ic.pending = make(map[UniConnection]UniConnectionStat)
	return taken
}

func (ic *ifaceCapture) record(stat UniConnectionStat) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	existing, ok := ic.pending[stat.UniConn]
	if !ok {
		ic.pending[stat.UniConn] = stat
		return
	}
	existing.AddAssign(stat)
	ic.pending[stat.UniConn] = existing
}

// Engine runs one capture goroutine per network interface and serves
// point-in-time NetworkRawStat snapshots on request, matching the reference
// client's control_thread/capture_thread split.
type Engine struct {
	log    logr.Logger
	cfg    Config
	mu     sync.Mutex
	active map[string]*ifaceCapture
}

// NewEngine constructs an idle capture engine. Call Run to start the control
// loop that discovers interfaces and spawns capture goroutines.
func NewEngine(log logr.Logger, cfg Config) *Engine {
	return &Engine{
		log:    log.WithName("netcapture"),
		cfg:    cfg,
		active: make(map[string]*ifaceCapture),
	}
}

// Run drives interface discovery and capture-goroutine lifecycle until ctx
// is cancelled. It is meant to run in its own goroutine for the lifetime of
// the process.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.ControlQueryTimeout)
	defer ticker.Stop()

	for {
		if err := e.reconcileInterfaces(); err != nil {
			e.log.Error(err, "failed to reconcile capture interfaces")
		}

		select {
		case <-ctx.Done():
			e.stopAll()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// reconcileInterfaces spawns a capture goroutine for any interface without
// one and reaps goroutines for interfaces that disappeared.
func (e *Engine) reconcileInterfaces() error {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("netcapture: list devices: %w", err)
	}

	seen := make(map[string]bool, len(devices))

	e.mu.Lock()
	for _, dev := range devices {
		seen[dev.Name] = true
		if _, ok := e.active[dev.Name]; ok {
			continue
		}
		ic := newIfaceCapture(toInterface(dev))
		e.active[dev.Name] = ic
		go e.captureLoop(dev, ic)
	}

	for name, ic := range e.active {
		if !seen[name] {
			close(ic.done)
			delete(e.active, name)
		}
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) stopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, ic := range e.active {
		close(ic.done)
		delete(e.active, name)
	}
}

// captureLoop opens the interface for live capture and accumulates every
// parsed packet into ic.pending until ic.done is closed.
func (e *Engine) captureLoop(dev pcap.Interface, ic *ifaceCapture) {
	defer close(ic.stopped)
	defer e.recoverCapture(dev.Name)

	handle, err := pcap.OpenLive(dev.Name, e.cfg.SnapshotLen, true, e.cfg.CaptureReadTimeout)
	if err != nil {
		e.log.Error(err, "failed to open interface for capture", "interface", dev.Name)
		return
	}
	defer handle.Close()

	for {
		select {
		case <-ic.done:
			return
		default:
		}

		data, ci, err := handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		}
		if err != nil {
			e.log.V(1).Info("capture read error", "interface", dev.Name, "error", err.Error())
			continue
		}

		stat, err := ParseFrame(data, ci.Length)
		if err != nil {
			continue
		}
		ic.record(stat)
	}
}

// Snapshot builds a NetworkRawStat by scanning /proc/net for the current
// socket-inode table and draining every active interface's accumulated flow
// counters, matching get_network_rawstat/control_thread's per-request work.
func (e *Engine) Snapshot() (*NetworkRawStat, error) {
	e.mu.Lock()
	ifaces := make([]Interface, 0, len(e.active))
	snapshots := make(map[string]*ifaceCapture, len(e.active))
	for name, ic := range e.active {
		ifaces = append(ifaces, ic.iface)
		snapshots[name] = ic
	}
	e.mu.Unlock()

	raw := NewNetworkRawStat()
	if err := BuildSocketTable(raw, ifaces); err != nil {
		return nil, err
	}

	for name, ic := range snapshots {
		irawstat := NewInterfaceRawStat(name, ic.iface.Description)
		irawstat.UniConnStats = ic.take()
		raw.SetInterface(name, irawstat)
	}

	return raw, nil
}

// recoverCapture turns a panicking capture goroutine into a fatal process
// exit: ic.mu's invariants can no longer be trusted once a panic has
// unwound through a locked section, so continuing would silently serve
// corrupt flow counters. Matches the reference client's treatment of a
// poisoned mutex as unrecoverable.
func (e *Engine) recoverCapture(ifaceName string) {
	if r := recover(); r != nil {
		err := &PoisonedLock{Interface: ifaceName, Panic: r}
		e.log.Error(err, "capture goroutine panicked, exiting process")
		os.Exit(1)
	}
}

func toInterface(dev pcap.Interface) Interface {
	iface := Interface{Name: dev.Name, Description: dev.Description}
	for _, a := range dev.Addresses {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		mask, ok := netip.AddrFromSlice(a.Netmask)
		if !ok {
			continue
		}
		iface.Addresses = append(iface.Addresses, InterfaceAddress{Addr: addr.Unmap(), Netmask: mask.Unmap()})
	}
	return iface
}
