/*
Copyright 2023 Avi Zimmerman <avi.zimmerman@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package membership implements the liveness ledger for the bus. The
// table maps node identities to the time they were last heard from.
// It holds at most one entry per identity, and an entry exists only
// for peers heard from within the dead-node timeout as of the last
// sweep.
package membership

import (
	"sort"
	"time"

	"github.com/webmeshproj/meshbus/pkg/identity"
)

// Entry pairs a node with the time it was last heard from.
type Entry struct {
	// Node is the tracked peer.
	Node identity.Node
	// LastSeen is when the peer last advertised.
	LastSeen time.Time
}

// Table tracks the peers currently believed alive. It is not safe for
// concurrent use. The bus reactor goroutine owns the table exclusively,
// so no locking is carried here.
type Table struct {
	entries map[identity.ID]Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[identity.ID]Entry)}
}

// Touch records that the node was heard from at the given time. It
// returns true when the node was previously unknown. A known node has
// only its last-seen time refreshed; the stored node is left as it was
// first recorded.
func (t *Table) Touch(node identity.Node, now time.Time) bool {
	entry, ok := t.entries[node.ID]
	if ok {
		entry.LastSeen = now
		t.entries[node.ID] = entry
		return false
	}
	t.entries[node.ID] = Entry{Node: node, LastSeen: now}
	return true
}

// Sweep removes every entry whose peer has not been heard from within
// the timeout as of now. The removed nodes are returned sorted by
// address.
func (t *Table) Sweep(now time.Time, timeout time.Duration) []identity.Node {
	var removed []identity.Node
	for id, entry := range t.entries {
		if now.After(entry.LastSeen.Add(timeout)) {
			removed = append(removed, entry.Node)
			delete(t.entries, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].Address() < removed[j].Address()
	})
	return removed
}

// Get returns the entry for the given identity, if present.
func (t *Table) Get(id identity.ID) (Entry, bool) {
	entry, ok := t.entries[id]
	return entry, ok
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Nodes returns the tracked peers sorted by address.
func (t *Table) Nodes() []identity.Node {
	nodes := make([]identity.Node, 0, len(t.entries))
	for _, entry := range t.entries {
		nodes = append(nodes, entry.Node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address() < nodes[j].Address()
	})
	return nodes
}
