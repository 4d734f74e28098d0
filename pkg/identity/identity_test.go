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

package identity

import (
	"errors"
	"testing"

	"github.com/webmeshproj/meshbus/pkg/context"
)

func TestIDAddress(t *testing.T) {
	t.Parallel()
	tt := []struct {
		name string
		id   ID
		want string
	}{
		{
			name: "HostnameAndPort",
			id:   ID{Name: "somehost", Port: 5555},
			want: "tcp://somehost:5555",
		},
		{
			name: "IPAndPort",
			id:   ID{Name: "192.168.0.12", Port: 49152},
			want: "tcp://192.168.0.12:49152",
		},
		{
			name: "ZeroPort",
			id:   ID{Name: "somehost", Port: 0},
			want: "tcp://somehost:0",
		},
	}
	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.id.Address(); got != tc.want {
				t.Fatalf("expected address %q, got %q", tc.want, got)
			}
			if got := tc.id.String(); got != tc.want {
				t.Fatalf("expected string %q, got %q", tc.want, got)
			}
		})
	}
}

func TestIDEquality(t *testing.T) {
	t.Parallel()
	seen := map[ID]int{}
	seen[ID{Name: "hosta", Port: 1}]++
	seen[ID{Name: "hosta", Port: 1}]++
	seen[ID{Name: "hosta", Port: 2}]++
	seen[ID{Name: "hostb", Port: 1}]++
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct identities, got %d", len(seen))
	}
	if seen[ID{Name: "hosta", Port: 1}] != 2 {
		t.Fatalf("expected identical identities to collapse to one key")
	}
}

func TestNewNode(t *testing.T) {
	t.Parallel()
	t.Run("ResolvedHostname", func(t *testing.T) {
		t.Parallel()
		resolver := ResolverFunc(func(_ context.Context, name string) string {
			return "resolved." + name
		})
		node := NewNode(context.Background(), resolver, "10.0.0.1", 4000)
		if node.Hostname != "resolved.10.0.0.1" {
			t.Fatalf("expected resolved hostname, got %q", node.Hostname)
		}
		if node.ID != (ID{Name: "10.0.0.1", Port: 4000}) {
			t.Fatalf("unexpected identity: %v", node.ID)
		}
	})
	t.Run("NoopResolver", func(t *testing.T) {
		t.Parallel()
		node := NewNode(context.Background(), NoopResolver(), "10.0.0.2", 4001)
		if node.Hostname != "10.0.0.2" {
			t.Fatalf("expected raw name, got %q", node.Hostname)
		}
	})
}

func TestCachingResolver(t *testing.T) {
	t.Parallel()
	t.Run("CachesSuccess", func(t *testing.T) {
		t.Parallel()
		var calls int
		resolver := NewResolver(ResolverOptions{
			Lookup: func(_ context.Context, addr string) ([]string, error) {
				calls++
				return []string{"peer.local."}, nil
			},
		})
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			if got := resolver.Resolve(ctx, "10.0.0.1"); got != "peer.local" {
				t.Fatalf("expected peer.local, got %q", got)
			}
		}
		if calls != 1 {
			t.Fatalf("expected a single lookup, got %d", calls)
		}
	})
	t.Run("DegradesOnFailure", func(t *testing.T) {
		t.Parallel()
		var calls int
		resolver := NewResolver(ResolverOptions{
			Lookup: func(_ context.Context, addr string) ([]string, error) {
				calls++
				return nil, errors.New("no such host")
			},
		})
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			if got := resolver.Resolve(ctx, "10.0.0.9"); got != "10.0.0.9" {
				t.Fatalf("expected raw name, got %q", got)
			}
		}
		if calls != 1 {
			t.Fatalf("expected the failure to be cached, got %d lookups", calls)
		}
	})
	t.Run("DegradesOnEmptyAnswer", func(t *testing.T) {
		t.Parallel()
		resolver := NewResolver(ResolverOptions{
			Lookup: func(_ context.Context, addr string) ([]string, error) {
				return nil, nil
			},
		})
		if got := resolver.Resolve(context.Background(), "10.0.0.7"); got != "10.0.0.7" {
			t.Fatalf("expected raw name, got %q", got)
		}
	})
}
