/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package htraced

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
	"github.com/google/uuid"
	"github.com/jmhodges/levigo"
)

// The name of the small metadata file kept alongside each shard's LevelDB
// files.  Per SPEC_FULL.md, this is a plain JSON blob, not a key inside the
// KV store itself.
const SHARD_INFO_FILE = "SHARD_INFO"

const UNKNOWN_LAYOUT_VERSION uint64 = 0
const CURRENT_LAYOUT_VERSION uint64 = 1

// The small per-shard metadata record, persisted as SHARD_INFO.
type ShardInfo struct {
	LayoutVersion uint64
	DaemonId      uint64
	ShardIndex    uint32
	TotalShards   uint32
}

func readShardInfo(dir string) (*ShardInfo, error) {
	data, err := os.ReadFile(filepath.Join(dir, SHARD_INFO_FILE))
	if err != nil {
		return nil, err
	}
	info := &ShardInfo{}
	if err := json.Unmarshal(data, info); err != nil {
		return nil, err
	}
	return info, nil
}

func writeShardInfo(dir string, info *ShardInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SHARD_INFO_FILE), data, 0644)
}

// Draws a fresh daemon id.  Uses a random UUID rather than the teacher's
// rand.Int63 seed so that ids are drawn from a source with real collision
// guarantees instead of the process's PRNG state.
func newDaemonId() uint64 {
	id := uuid.New()
	b := [16]byte(id)
	return binary.BigEndian.Uint64(b[:8])
}

// One opened-but-not-yet-verified shard directory.
type shardLoadResult struct {
	dir   string
	ldb   *levigo.DB
	info  *ShardInfo
	isNew bool
}

type dataStoreLoader struct {
	lg    *common.Logger
	dirs  []string
	clear bool
}

func newDataStoreLoader(cnf *conf.Config, lg *common.Logger) *dataStoreLoader {
	return &dataStoreLoader{
		lg:    lg,
		dirs:  cnf.DataDirs(),
		clear: cnf.GetBool(conf.HTRACE_DATA_STORE_CLEAR),
	}
}

// Opens (creating if necessary) every configured shard directory, verifies
// their SHARD_INFO records agree, and returns them ordered by ShardIndex.
func (ldr *dataStoreLoader) load() ([]*shardLoadResult, error) {
	if len(ldr.dirs) == 0 {
		return nil, fmt.Errorf("No shard directories found.")
	}
	if ldr.clear {
		for _, d := range ldr.dirs {
			os.RemoveAll(d)
		}
	}
	results := make([]*shardLoadResult, 0, len(ldr.dirs))
	for _, d := range ldr.dirs {
		// A directory configured twice hits LevelDB's own file lock on the
		// second open, surfacing the same "already held by process" error
		// a concurrent htraced instance pointed at the same directory would.
		if err := os.MkdirAll(d, 0755); err != nil {
			ldr.closeAll(results)
			return nil, fmt.Errorf("failed to create shard directory %s: %s", d, err.Error())
		}
		ldb, err := openShardDb(d, true)
		if err != nil {
			ldr.closeAll(results)
			return nil, fmt.Errorf("failed to open shard directory %s: %s", d, err.Error())
		}
		info, infoErr := readShardInfo(d)
		results = append(results, &shardLoadResult{
			dir:   d,
			ldb:   ldb,
			info:  info,
			isNew: infoErr != nil,
		})
	}
	if err := ldr.verifyAndAssign(results); err != nil {
		ldr.closeAll(results)
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].info.ShardIndex < results[j].info.ShardIndex
	})
	return results, nil
}

func (ldr *dataStoreLoader) closeAll(results []*shardLoadResult) {
	for _, r := range results {
		if r.ldb != nil {
			r.ldb.Close()
		}
	}
}

func (ldr *dataStoreLoader) verifyAndAssign(results []*shardLoadResult) error {
	numNew := 0
	for _, r := range results {
		if r.isNew {
			numNew++
		}
	}
	if numNew == len(results) {
		// A fresh shard set: assign a new daemon id and sequential indices.
		daemonId := newDaemonId()
		for i, r := range results {
			r.info = &ShardInfo{
				LayoutVersion: CURRENT_LAYOUT_VERSION,
				DaemonId:      daemonId,
				ShardIndex:    uint32(i),
				TotalShards:   uint32(len(results)),
			}
			if err := writeShardInfo(r.dir, r.info); err != nil {
				return fmt.Errorf("failed to write SHARD_INFO in %s: %s", r.dir, err.Error())
			}
		}
		return nil
	}
	if numNew != 0 {
		return fmt.Errorf("Inconsistent shard set: some directories have an "+
			"existing SHARD_INFO and some do not (%d of %d are new).",
			numNew, len(results))
	}
	first := results[0]
	usedIndices := make(map[uint32]string)
	for _, r := range results {
		if r.info.DaemonId != first.info.DaemonId {
			return fmt.Errorf("DaemonId mismatch. Shard %s has daemonId 0x%016x, "+
				"but shard %s has daemonId 0x%016x.",
				r.dir, r.info.DaemonId, first.dir, first.info.DaemonId)
		}
		if r.info.TotalShards != first.info.TotalShards {
			return fmt.Errorf("TotalShards mismatch. Shard %s has TotalShards = %d, "+
				"but shard %s has TotalShards = %d.",
				r.dir, r.info.TotalShards, first.dir, first.info.TotalShards)
		}
		if r.info.LayoutVersion != first.info.LayoutVersion {
			return fmt.Errorf("Layout version mismatch. Shard %s has layout version "+
				"0x%016x, but shard %s has layout version 0x%016x.",
				r.dir, r.info.LayoutVersion, first.dir, first.info.LayoutVersion)
		}
		if r.info.ShardIndex >= r.info.TotalShards {
			return fmt.Errorf("Invalid ShardIndex %d for shard %s: TotalShards is %d.",
				r.info.ShardIndex, r.dir, r.info.TotalShards)
		}
		if other, ok := usedIndices[r.info.ShardIndex]; ok {
			return fmt.Errorf("Both shard %s and shard %s have ShardIndex %d.",
				other, r.dir, r.info.ShardIndex)
		}
		usedIndices[r.info.ShardIndex] = r.dir
	}
	if first.info.LayoutVersion != CURRENT_LAYOUT_VERSION {
		return fmt.Errorf("The layout version of all shards is %d, but we only "+
			"support version %d.", first.info.LayoutVersion, CURRENT_LAYOUT_VERSION)
	}
	if int(first.info.TotalShards) != len(results) {
		return fmt.Errorf("The TotalShards field of all shards is %d, but we have "+
			"%d shards configured.", first.info.TotalShards, len(results))
	}
	return nil
}
