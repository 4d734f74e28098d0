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

import "github.com/prometheus/client_golang/prometheus"

// namespace prefixes every bus metric.
const namespace = "meshbus"

// metrics are the instruments the reactor updates. They are only ever
// touched from the reactor goroutine.
type metrics struct {
	peers             prometheus.Gauge
	joins             prometheus.Counter
	expiries          prometheus.Counter
	beaconsReceived   prometheus.Counter
	connectFailures   prometheus.Counter
	messagesPublished prometheus.Counter
	messagesForwarded prometheus.Counter
}

// newMetrics builds the bus collectors and registers them with the
// given registerer when one is supplied.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Number of peers currently in the membership table.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "joins_total",
			Help:      "Total number of peers added to the membership table.",
		}),
		expiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiries_total",
			Help:      "Total number of peers swept after the dead-node timeout.",
		}),
		beaconsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "beacons_received_total",
			Help:      "Total number of discovery advertisements received.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Total number of failed data-plane connect attempts.",
		}),
		messagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_published_total",
			Help:      "Total number of payloads published to the data channel.",
		}),
		messagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_forwarded_total",
			Help:      "Total number of received payloads forwarded to the owner.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.peers,
			m.joins,
			m.expiries,
			m.beaconsReceived,
			m.connectFailures,
			m.messagesPublished,
			m.messagesForwarded,
		)
	}
	return m
}
