// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"encoding/json"

	"github.com/antimetal/netagent/pkg/config"
)

// processStatScalarFields are ProcessStat's own CPU/memory/IO fields, i.e.
// everything except NetStat, which OutputFilter.InterfaceStats governs
// separately.
var processStatScalarFields = []string{
	"Timestamp",
	"TotalSystemCPUTime", "TotalUserCPUTime", "TotalCPUTime",
	"TotalRSS", "TotalVSS", "TotalSwap",
	"TotalIORead", "TotalIOWrite", "TotalBlockIORead", "TotalBlockIOWrite",
}

// processIdentityFields are Process's credential, lineage and command
// fields, as opposed to its accounting (Stat) and thread list (Threads).
var processIdentityFields = []string{
	"Pid", "ParentPid",
	"Uid", "EffectiveUid", "SavedUid", "FsUid",
	"Gid", "EffectiveGid", "SavedGid", "FsGid",
	"RealPid", "RealParentPid",
	"RealUid", "RealEffectiveUid", "RealSavedUid", "RealFsUid",
	"RealGid", "RealEffectiveGid", "RealSavedGid", "RealFsGid",
	"ExecPath", "Command", "ChildRealPids",
}

// ApplyOutputFilter elides whichever branches of an already-marshaled
// Snapshot document filter marks false, matching the reference config's
// "filter" option: an omitted field is never populated in the output
// document, not just zeroed. A nil filter is a no-op.
//
// This operates on the marshaled JSON rather than threading filter
// awareness through Snapshot/ContainerSnapshot/procwalk.Process: those
// types carry no json tags of their own (their field names are their bare
// Go identifiers), and a post-processing pass covers every tier the
// filter's tree names without adding filter plumbing to packages that
// otherwise know nothing about it.
func ApplyOutputFilter(payload []byte, filter *config.OutputFilter) ([]byte, error) {
	if filter == nil {
		return payload, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}

	if !filter.NetworkRawStat {
		delete(doc, "network_rawstat")
	}

	if containers, ok := doc["container_stats"].([]any); ok {
		for _, c := range containers {
			container, ok := c.(map[string]any)
			if !ok {
				continue
			}
			processes, ok := container["processes"].([]any)
			if !ok {
				continue
			}
			for _, p := range processes {
				if process, ok := p.(map[string]any); ok {
					filterProcessDoc(process, filter)
				}
			}
		}
	}

	return json.Marshal(doc)
}

func filterProcessDoc(process map[string]any, filter *config.OutputFilter) {
	if !filter.ProcessIdentity {
		for _, field := range processIdentityFields {
			delete(process, field)
		}
	}

	if stat, ok := process["Stat"].(map[string]any); ok {
		if !filter.ProcessStats {
			for _, field := range processStatScalarFields {
				delete(stat, field)
			}
		}
		if !filter.InterfaceStats {
			delete(stat, "NetStat")
		}
		if len(stat) == 0 {
			delete(process, "Stat")
		}
	}

	if threads, ok := process["Threads"].([]any); ok && !filter.ThreadStats {
		for _, t := range threads {
			if thread, ok := t.(map[string]any); ok {
				delete(thread, "Stat")
			}
		}
	}
}
