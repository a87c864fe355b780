// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import "encoding/json"

// JSONSerializer marshals a Snapshot with encoding/json, matching the
// reference implementation's serde_json::to_string(&total_stat) call in
// read_monitored_data.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(snapshot *Snapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

// chunkMessage splits msg into pieces of at most size bytes, mirroring
// read_monitored_data's character-chunking of the serialized snapshot
// before handing each piece to the Kafka producer. size <= 0 means publish
// the whole message as a single chunk.
func chunkMessage(msg []byte, size int) [][]byte {
	if size <= 0 || len(msg) <= size {
		return [][]byte{msg}
	}

	chunks := make([][]byte, 0, (len(msg)+size-1)/size)
	for start := 0; start < len(msg); start += size {
		end := start + size
		if end > len(msg) {
			end = len(msg)
		}
		chunks = append(chunks, msg[start:end])
	}
	return chunks
}
