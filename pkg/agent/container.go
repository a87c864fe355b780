// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/antimetal/netagent/pkg/common"
	"github.com/antimetal/netagent/pkg/config"
)

// DockerEnumerator resolves a container name to its real (init-namespace)
// pids by shelling out to `docker top`, mirroring main.rs's
// read_monitored_data, which ran the same command and parsed the pid out
// of column two of every line after the header.
//
// ListPIDs returns every real pid docker reports and does no namespace
// filtering itself. The scheduler (resolveTargetPIDs) uses those pids
// directly on a pre-namespace-aware kernel (config.OldKernel), matching the
// reference implementation's is_old_kernel branch; otherwise it passes them
// through FilterByNamespace, which cross-checks each candidate's
// /proc/<pid>/status NStgid against the monitor target's configured
// pid_list, so a container's namespaced pid can be named in config without
// knowing its ever-changing real pid.
type DockerEnumerator struct {
	store *config.Store
}

// NewDockerEnumerator returns an enumerator that holds store. ListPIDs does
// not read the OldKernel flag; the scheduler checks it on every tick.
func NewDockerEnumerator(store *config.Store) *DockerEnumerator {
	return &DockerEnumerator{store: store}
}

// ListPIDs runs `docker top <containerName>` and returns the real pids
// belonging to it. The "/" container name (the host's own pid namespace)
// is handled by the scheduler directly from a monitor target's pid_list
// and never reaches ListPIDs.
func (e *DockerEnumerator) ListPIDs(ctx context.Context, containerName string) ([]common.Pid, error) {
	out, err := exec.CommandContext(ctx, "docker", "top", containerName).Output()
	if err != nil {
		return nil, fmt.Errorf("agent: docker top %s: %w", containerName, err)
	}

	var pids []common.Pid
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line: UID PID PPID ...
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, err := common.ParsePid(fields[1])
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// FilterByNamespace keeps only the real pids whose namespaced pid
// (/proc/<realPid>/status NStgid) appears in wanted, mirroring
// read_monitored_data's per-line pid_list membership check. Called by the
// scheduler, not by ListPIDs itself, since the NStgid read needs the same
// procPath configuration as the rest of pkg/procwalk. An empty wanted
// returns realPids unfiltered.
func FilterByNamespace(procPath string, realPids []common.Pid, wanted []common.Pid) []common.Pid {
	if len(wanted) == 0 {
		return realPids
	}
	want := make(map[common.Pid]bool, len(wanted))
	for _, p := range wanted {
		want[p] = true
	}

	var kept []common.Pid
	for _, realPid := range realPids {
		nsPid, ok := readNStgid(procPath, realPid)
		if ok && want[nsPid] {
			kept = append(kept, realPid)
		}
	}
	return kept
}

// readNStgid reads the namespaced pid (the last whitespace-separated
// token of the NStgid line, which carries one entry per nested pid
// namespace) out of /proc/<realPid>/status.
func readNStgid(procPath string, realPid common.Pid) (common.Pid, bool) {
	f, err := os.Open(filepath.Join(procPath, realPid.String(), "status"))
	if err != nil {
		return 0, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 || line[:idx] != "NStgid" {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) == 0 {
			return 0, false
		}
		pid, err := common.ParsePid(fields[len(fields)-1])
		if err != nil {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}
