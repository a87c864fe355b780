// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procwalk

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antimetal/netagent/pkg/common"
	"github.com/antimetal/netagent/pkg/netcapture"
	"github.com/antimetal/netagent/pkg/procwalk/idcache"
	"github.com/antimetal/netagent/pkg/taskstats"
	"github.com/go-logr/logr"
)

// Walker builds Process records by reading /proc, joining them against
// TASKSTATS accounting and captured network flows. Its procPath is
// injected (and overridable via HOST_PROC) the same way the rest of this
// module's /proc readers are, so it can run against a mounted host
// procfs from inside a container.
type Walker struct {
	log       logr.Logger
	procPath  string
	taskstats *taskstats.Client
	idCache   *idcache.Cache
}

// NewWalker returns a Walker rooted at procPath (conventionally /proc, or
// HOST_PROC when running containerized) using ts to resolve per-thread
// accounting.
func NewWalker(log logr.Logger, procPath string, ts *taskstats.Client) *Walker {
	return &Walker{log: log.WithName("procwalk"), procPath: procPath, taskstats: ts}
}

// WithIDCache enables caching of raw uid_map/gid_map file contents in c
// (the contents are still parsed on every GetRealProc call). A
// process's id maps are fixed for its lifetime, so caching them keyed by
// (pid, start time) avoids re-reading /proc for every long-lived container
// on every scheduler tick; see pkg/procwalk/idcache.
func (w *Walker) WithIDCache(c *idcache.Cache) *Walker {
	w.idCache = c
	return w
}

func (w *Walker) path(pid common.Pid, elem ...string) string {
	parts := append([]string{w.procPath, pid.String()}, elem...)
	return filepath.Join(parts...)
}

// readStatusFields reads /proc/<pid>/status and returns every "Key:\tvalue"
// line as Key -> trimmed value, matching the teacher's procutils prefix-
// matching idiom rather than the reference client's fixed line-index reads
// (which break silently across kernel versions that reorder or add fields).
func readStatusFields(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("procwalk: open %s: %w", path, err)
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		fields[line[:idx]] = strings.TrimSpace(line[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("procwalk: read %s: %w", path, err)
	}
	return fields, nil
}

// lastUintField parses the final whitespace-separated token of value as an
// unsigned integer. NStgid/NSpid carry one entry per nested pid namespace;
// the last is the innermost, which is the only one this host-level agent
// ever needs.
func lastUintField(value string) (uint64, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, fmt.Errorf("procwalk: empty field")
	}
	return strconv.ParseUint(fields[len(fields)-1], 10, 64)
}

// credentialQuad parses a Uid:/Gid: status line's four whitespace-separated
// values: real, effective, saved, filesystem.
func credentialQuad(value string) ([4]uint64, error) {
	var quad [4]uint64
	fields := strings.Fields(value)
	if len(fields) != 4 {
		return quad, fmt.Errorf("procwalk: expected 4 credential fields, got %d", len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return quad, fmt.Errorf("procwalk: parse credential field %q: %w", f, err)
		}
		quad[i] = v
	}
	return quad, nil
}

// generation returns a cache-key component that changes when realPid is
// recycled by the kernel to a different process: the process's start time
// from /proc/<pid>/stat, which is immutable for a process's lifetime and
// distinct across any two processes that have ever held the same pid.
func (w *Walker) generation(realPid common.Pid) idcache.Generation {
	content, err := os.ReadFile(w.path(realPid, "stat"))
	if err != nil {
		return 0
	}
	// comm is the second, parenthesized field and may itself contain
	// spaces or parens, so resume parsing after the last ')'.
	i := strings.LastIndexByte(string(content), ')')
	if i < 0 || i+2 >= len(content) {
		return 0
	}
	fields := strings.Fields(string(content[i+2:]))
	const startTimeIndex = 19 // field 22 overall, 0-indexed after state/ppid/...
	if len(fields) <= startTimeIndex {
		return 0
	}
	v, err := strconv.ParseUint(fields[startTimeIndex], 10, 64)
	if err != nil {
		return 0
	}
	return idcache.Generation(v)
}

// readUidMap returns /proc/<realPid>/uid_map's contents, preferring the
// idCache if one is configured.
func (w *Walker) readUidMap(realPid common.Pid, gen idcache.Generation) ([]byte, bool) {
	if w.idCache != nil {
		if cached, ok := w.idCache.GetUidMap(realPid, gen); ok {
			return cached, true
		}
	}
	content, err := os.ReadFile(w.path(realPid, "uid_map"))
	if err != nil {
		return nil, false
	}
	if w.idCache != nil {
		if err := w.idCache.PutUidMap(realPid, gen, content); err != nil {
			w.log.V(1).Info("failed to cache uid_map", "pid", realPid, "err", err)
		}
	}
	return content, true
}

// readGidMap mirrors readUidMap for /proc/<realPid>/gid_map.
func (w *Walker) readGidMap(realPid common.Pid, gen idcache.Generation) ([]byte, bool) {
	if w.idCache != nil {
		if cached, ok := w.idCache.GetGidMap(realPid, gen); ok {
			return cached, true
		}
	}
	content, err := os.ReadFile(w.path(realPid, "gid_map"))
	if err != nil {
		return nil, false
	}
	if w.idCache != nil {
		if err := w.idCache.PutGidMap(realPid, gen, content); err != nil {
			w.log.V(1).Info("failed to cache gid_map", "pid", realPid, "err", err)
		}
	}
	return content, true
}

// GetRealProc reads every /proc/<realPid> source of truth and assembles a
// fully joined Process: credentials (both real and namespaced, via
// uid_map/gid_map), the exe path and command name, per-thread TASKSTATS
// accounting, and network flow counters correlated through netRawStat.
// Grounded on the reference implementation's get_real_proc.
func (w *Walker) GetRealProc(realPid common.Pid, netRawStat *netcapture.NetworkRawStat) (*Process, error) {
	statusPath := w.path(realPid, "status")
	status, err := readStatusFields(statusPath)
	if err != nil {
		return nil, err
	}

	proc := &Process{
		RealPid: realPid,
		Stat:    NewProcessStat(),
	}

	v, ok := status["NStgid"]
	if !ok {
		return nil, &StatusFieldMissingError{Field: "NStgid", Path: statusPath}
	}
	if nstgid, err := lastUintField(v); err == nil {
		proc.Pid = common.Pid(nstgid)
	}

	if realPid == 1 {
		proc.RealParentPid = 0
		proc.ParentPid = 0
	} else {
		if v, ok := status["PPid"]; ok {
			if fields := strings.Fields(v); len(fields) > 0 {
				if ppid, err := strconv.ParseUint(fields[0], 10, 32); err == nil {
					proc.RealParentPid = common.Pid(ppid)
				}
			}
		}
		if proc.RealParentPid != 0 {
			if parentStatus, err := readStatusFields(w.path(proc.RealParentPid, "status")); err == nil {
				if v, ok := parentStatus["NStgid"]; ok {
					if nstgid, err := lastUintField(v); err == nil {
						proc.ParentPid = common.Pid(nstgid)
					}
				}
			}
			// A parent status read failing (the parent has already exited)
			// is not fatal: ParentPid simply stays 0.
		}
	}

	if v, ok := status["Uid"]; ok {
		if quad, err := credentialQuad(v); err == nil {
			proc.RealUid = common.Uid(quad[0])
			proc.RealEffectiveUid = common.Uid(quad[1])
			proc.RealSavedUid = common.Uid(quad[2])
			proc.RealFsUid = common.Uid(quad[3])
		}
	}
	if v, ok := status["Gid"]; ok {
		if quad, err := credentialQuad(v); err == nil {
			proc.RealGid = common.Gid(quad[0])
			proc.RealEffectiveGid = common.Gid(quad[1])
			proc.RealSavedGid = common.Gid(quad[2])
			proc.RealFsGid = common.Gid(quad[3])
		}
	}

	gen := w.generation(realPid)

	if content, ok := w.readUidMap(realPid, gen); ok {
		if m, err := parseUidMap(string(content)); err == nil {
			proc.Uid, _ = m.mapToUid(proc.RealUid)
			proc.EffectiveUid, _ = m.mapToUid(proc.RealEffectiveUid)
			proc.SavedUid, _ = m.mapToUid(proc.RealSavedUid)
			proc.FsUid, _ = m.mapToUid(proc.RealFsUid)
		} else {
			w.log.V(1).Info("skipping malformed uid_map", "pid", realPid, "err", err)
		}
	}
	if content, ok := w.readGidMap(realPid, gen); ok {
		if m, err := parseGidMap(string(content)); err == nil {
			proc.Gid, _ = m.mapToGid(proc.RealGid)
			proc.EffectiveGid, _ = m.mapToGid(proc.RealEffectiveGid)
			proc.SavedGid, _ = m.mapToGid(proc.RealSavedGid)
			proc.FsGid, _ = m.mapToGid(proc.RealFsGid)
		} else {
			w.log.V(1).Info("skipping malformed gid_map", "pid", realPid, "err", err)
		}
	}

	if exe, err := os.Readlink(w.path(realPid, "exe")); err == nil {
		proc.ExecPath = exe
	}
	if comm, err := os.ReadFile(w.path(realPid, "comm")); err == nil {
		proc.Command = strings.TrimSpace(string(comm))
	}

	if v, ok := status["VmRSS"]; ok {
		if kb, err := lastVmField(v); err == nil {
			proc.Stat.TotalRSS = common.DataCountFromKB(kb)
		}
	}
	if v, ok := status["VmSize"]; ok {
		if kb, err := lastVmField(v); err == nil {
			proc.Stat.TotalVSS = common.DataCountFromKB(kb)
		}
	}
	if v, ok := status["VmSwap"]; ok {
		if kb, err := lastVmField(v); err == nil {
			proc.Stat.TotalSwap = common.DataCountFromKB(kb)
		}
	}

	if netRawStat != nil {
		w.joinNetworkStat(realPid, proc, netRawStat)
	}

	w.joinThreads(realPid, proc)

	proc.ChildRealPids = w.readChildren(realPid)

	return proc, nil
}

// lastVmField parses a "VmRSS:" style value ("1234 kB") into its leading
// kB count.
func lastVmField(value string) (uint64, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return 0, fmt.Errorf("procwalk: empty field")
	}
	return strconv.ParseUint(fields[0], 10, 64)
}

// joinNetworkStat walks /proc/<realPid>/fd, extracts socket inodes, and
// correlates each against the capture engine's flow tables, folding the
// result into proc.Stat.NetStat.
func (w *Walker) joinNetworkStat(realPid common.Pid, proc *Process, netRawStat *netcapture.NetworkRawStat) {
	fdDir := w.path(realPid, "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil {
			continue
		}
		inode, ok := parseSocketInode(target)
		if !ok {
			continue
		}

		conn, ok := netRawStat.LookupConnection(inode)
		if !ok {
			continue
		}
		iname, ok := netRawStat.LookupInterfaceName(conn)
		if !ok {
			continue
		}
		iface, ok := netRawStat.Interface(iname)
		if !ok {
			continue
		}

		forward, ok := iface.GetUniConnStat(conn.ForwardKey())
		if !ok {
			forward = netcapture.NewUniConnectionStat(conn.ForwardKey())
		}
		reverse, ok := iface.GetUniConnStat(conn.ReverseKey())
		if !ok {
			reverse = netcapture.NewUniConnectionStat(conn.ReverseKey())
		}

		proc.Stat.NetStat.AddConnectionStat(iname, ConnectionStat{
			Connection:    conn,
			PacketSent:    forward.PacketCount,
			PacketRecv:    reverse.PacketCount,
			TotalDataSent: forward.TotalDataCount,
			TotalDataRecv: reverse.TotalDataCount,
			RealDataSent:  forward.RealDataCount,
			RealDataRecv:  reverse.RealDataCount,
		})
	}
}

// parseSocketInode extracts the inode from a /proc/<pid>/fd/<n> symlink
// target of the form "socket:[12345]".
func parseSocketInode(target string) (common.Inode, bool) {
	if !strings.HasPrefix(target, "socket:[") || !strings.HasSuffix(target, "]") {
		return 0, false
	}
	raw := target[len("socket:[") : len(target)-1]
	inode, err := common.ParseInode(raw)
	if err != nil {
		return 0, false
	}
	return inode, true
}

// joinThreads walks /proc/<realPid>/task, resolving each thread's
// namespaced tid and TASKSTATS accounting. A thread whose taskstats read
// fails is skipped rather than failing the whole process, matching the
// reference client: a thread can exit between being listed and being
// queried.
func (w *Walker) joinThreads(realPid common.Pid, proc *Process) {
	taskDir := w.path(realPid, "task")
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		realTid, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}

		thread := Thread{
			RealTid: common.Tid(realTid),
			RealPid: realPid,
			Pid:     proc.Pid,
		}

		if status, err := readStatusFields(filepath.Join(taskDir, entry.Name(), "status")); err == nil {
			if v, ok := status["Tid"]; ok {
				if nsTid, err := lastUintField(v); err == nil {
					thread.Tid = common.Tid(nsTid)
				}
			}
		}

		if w.taskstats != nil {
			stats, err := w.taskstats.GetThreadStats(thread.RealTid)
			if err != nil {
				w.log.V(1).Info("skipping thread with unreadable taskstats", "pid", realPid, "tid", thread.RealTid, "err", err)
				continue
			}
			thread.Stat = ThreadStat{
				Timestamp:          common.Now(),
				TotalSystemCPUTime: stats.SystemCPUTime,
				TotalUserCPUTime:   stats.UserCPUTime,
				TotalCPUTime:       stats.SystemCPUTime.Add(stats.UserCPUTime),
				TotalIORead:        stats.IORead,
				TotalIOWrite:       stats.IOWrite,
				TotalBlockIORead:   stats.BlockIORead,
				TotalBlockIOWrite:  stats.BlockIOWrite,
			}
			proc.Stat.AddThreadStat(thread.Stat)
		}
		proc.Threads = append(proc.Threads, thread)
	}
}

// readChildren reads /proc/<realPid>/task/<realPid>/children, the kernel's
// space-separated list of a process's direct children. A read failure
// (the file is unsupported on some kernels, or the process has exited) is
// not fatal: the process is simply reported as childless.
func (w *Walker) readChildren(realPid common.Pid) []common.Pid {
	content, err := os.ReadFile(w.path(realPid, "task", realPid.String(), "children"))
	if err != nil {
		return nil
	}
	var children []common.Pid
	for _, f := range strings.Fields(string(content)) {
		pid, err := common.ParsePid(f)
		if err != nil {
			continue
		}
		children = append(children, pid)
	}
	return children
}

// IterateProcTree walks the process tree from root using an explicit stack
// and a flat visited-pid set, never recursion and never
// back-pointers, so a corrupted or adversarial /proc/<pid>/.../children
// chain can never produce an infinite walk. Grounded on the reference
// implementation's iterate_proc_tree.
func (w *Walker) IterateProcTree(root *Process, netRawStat *netcapture.NetworkRawStat) ([]Process, error) {
	var processes []Process
	visited := make(map[common.Pid]bool)

	stack := []*Process{root}
	for len(stack) > 0 {
		proc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[proc.RealPid] {
			continue
		}
		visited[proc.RealPid] = true
		processes = append(processes, *proc)

		for _, childRealPid := range proc.ChildRealPids {
			if visited[childRealPid] {
				continue
			}
			child, err := w.GetRealProc(childRealPid, netRawStat)
			if err != nil {
				// The child may have exited between being listed and being
				// read; skip it rather than failing the whole walk.
				continue
			}
			stack = append(stack, child)
		}
	}

	return processes, nil
}
