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

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/webmeshproj/meshbus/pkg/context"
	"github.com/webmeshproj/meshbus/pkg/transport"
)

// connector keeps the data-plane connection set in lock-step with the
// membership table. It tracks which peer addresses are attached so a
// failed connect can be retried when the peer advertises again. It is
// only ever used from the reactor goroutine.
type connector struct {
	data          transport.DataChannel
	connected     map[string]struct{}
	maxRetries    uint
	retryInterval time.Duration
}

func newConnector(data transport.DataChannel, maxRetries uint, retryInterval time.Duration) *connector {
	return &connector{
		data:          data,
		connected:     make(map[string]struct{}),
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
	}
}

// Connect attaches the data plane to the peer at the given address.
// The attempt is retried at a constant interval up to the configured
// retry count before the error is surfaced. Connecting an address that
// is already attached is a no-op.
func (c *connector) Connect(ctx context.Context, address string) error {
	if _, ok := c.connected[address]; ok {
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), uint64(c.maxRetries)), ctx)
	err := backoff.Retry(func() error {
		return c.data.Connect(ctx, address)
	}, policy)
	if err != nil {
		return fmt.Errorf("connect data plane to %s: %w", address, err)
	}
	c.connected[address] = struct{}{}
	return nil
}

// Disconnect detaches the data plane from the peer at the given
// address. Detaching an address that was never attached is a no-op.
func (c *connector) Disconnect(address string) error {
	if _, ok := c.connected[address]; !ok {
		return nil
	}
	delete(c.connected, address)
	if err := c.data.Disconnect(address); err != nil {
		return fmt.Errorf("disconnect data plane from %s: %w", address, err)
	}
	return nil
}

// Connected reports whether the peer at the given address is attached.
func (c *connector) Connected(address string) bool {
	_, ok := c.connected[address]
	return ok
}
