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

package bus

// EventType is the type of a membership event. The values are the wire
// names pushed to external owners.
type EventType string

const (
	// NodeAdded is emitted when a previously unknown peer is heard
	// from and joins the membership table.
	NodeAdded EventType = "AddedNode"
	// NodeRemoved is emitted when a peer is swept from the membership
	// table after staying silent past the dead-node timeout.
	NodeRemoved EventType = "RemovedNode"
)

// Event is a membership change notification.
type Event struct {
	// Type is what happened to the peer.
	Type EventType
	// Address is the peer's connection address.
	Address string
}

// Message is one frame-sequence received on the data channel, forwarded
// to the owner unmodified in content and frame count.
type Message [][]byte

// commandKind tags the commands the owner can enqueue on the reactor.
type commandKind int

const (
	cmdTerminate commandKind = iota
	cmdPublish
	cmdHostAddress
	cmdListPeers
)

// command is a single owner request. Commands carrying a reply channel
// receive exactly one reply while the reactor runs; issuers must also
// select on the bus done channel.
type command struct {
	kind   commandKind
	frames [][]byte
	replyc chan []string
}

func (c commandKind) String() string {
	switch c {
	case cmdTerminate:
		return "Terminate"
	case cmdPublish:
		return "Publish"
	case cmdHostAddress:
		return "GetHostAddress"
	case cmdListPeers:
		return "ListPeers"
	default:
		return "Unknown"
	}
}
