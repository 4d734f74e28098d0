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
	"log/slog"
	"net"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webmeshproj/meshbus/pkg/context"
)

const (
	// DefaultResolveTimeout is the default timeout for a single lookup.
	DefaultResolveTimeout = time.Second
	// DefaultResolveCacheSize is the default number of resolved names
	// kept in memory.
	DefaultResolveCacheSize = 128
)

// Resolver resolves display hostnames for peer names. Implementations
// must not return an error; a name that cannot be resolved is returned
// as-is.
type Resolver interface {
	// Resolve returns the display hostname for the given name.
	Resolve(ctx context.Context, name string) string
}

// ResolverFunc is a function that implements Resolver.
type ResolverFunc func(ctx context.Context, name string) string

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, name string) string {
	return f(ctx, name)
}

// NoopResolver returns a resolver that performs no lookups. Every name
// resolves to itself.
func NoopResolver() Resolver {
	return ResolverFunc(func(_ context.Context, name string) string {
		return name
	})
}

// LookupFunc performs a reverse lookup for the given address. It has
// the signature of net.Resolver.LookupAddr.
type LookupFunc func(ctx context.Context, addr string) ([]string, error)

// ResolverOptions are options for the caching resolver.
type ResolverOptions struct {
	// CacheSize is the number of resolved names to keep in memory.
	// Defaults to DefaultResolveCacheSize.
	CacheSize int
	// Timeout bounds a single lookup. Defaults to
	// DefaultResolveTimeout.
	Timeout time.Duration
	// Lookup is the lookup function. Defaults to the system resolver's
	// LookupAddr.
	Lookup LookupFunc
}

// NewResolver returns a Resolver that performs reverse lookups through
// the system resolver with an LRU cache in front. Peers advertise every
// second, so repeated lookups for the same name would be wasted work.
// Failed lookups are cached too, degraded to the raw name.
func NewResolver(opts ResolverOptions) Resolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultResolveCacheSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultResolveTimeout
	}
	if opts.Lookup == nil {
		opts.Lookup = net.DefaultResolver.LookupAddr
	}
	// Only errors on size <= 0, which is handled above.
	cache, _ := lru.New[string, string](opts.CacheSize)
	return &cachingResolver{
		cache:   cache,
		lookup:  opts.Lookup,
		timeout: opts.Timeout,
	}
}

type cachingResolver struct {
	cache   *lru.Cache[string, string]
	lookup  LookupFunc
	timeout time.Duration
}

func (r *cachingResolver) Resolve(ctx context.Context, name string) string {
	if hostname, ok := r.cache.Get(name); ok {
		return hostname
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	hostname := name
	names, err := r.lookup(lookupCtx, name)
	if err != nil || len(names) == 0 {
		context.LoggerFrom(ctx).Debug("hostname lookup failed, using raw name",
			slog.String("name", name), slog.Any("error", err))
	} else {
		hostname = strings.TrimSuffix(names[0], ".")
	}
	r.cache.Add(name, hostname)
	return hostname
}
