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

// Package identity contains the types identifying peers on the bus.
package identity

import (
	"fmt"

	"github.com/webmeshproj/meshbus/pkg/context"
)

// ID uniquely identifies a peer on the bus. It is the origin host name
// paired with the peer's data port. IDs are comparable and are used as
// map keys throughout; equality depends on nothing but the two fields.
type ID struct {
	// Name is the host the peer was heard from.
	Name string
	// Port is the peer's advertised data port.
	Port uint16
}

// Address returns the connection address derived from the ID.
func (id ID) Address() string {
	return fmt.Sprintf("tcp://%s:%d", id.Name, id.Port)
}

// String returns the connection address.
func (id ID) String() string {
	return id.Address()
}

// Node is a peer on the bus. The hostname is resolved for display only
// and carries no weight in identity comparisons. Nodes are immutable
// once constructed.
type Node struct {
	// ID is the peer's identity key.
	ID
	// Hostname is the peer's resolved hostname. When resolution fails
	// it holds the raw name from the ID.
	Hostname string
}

// NewNode constructs a Node for the given name and port. The resolver
// supplies the display hostname. Resolution failure degrades the
// hostname to the raw name and is never an error.
func NewNode(ctx context.Context, resolver Resolver, name string, port uint16) Node {
	id := ID{Name: name, Port: port}
	return Node{
		ID:       id,
		Hostname: resolver.Resolve(ctx, name),
	}
}
