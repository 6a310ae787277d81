package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FetchAttempts counts session-bound upstream fetch attempts by outcome
// ("ok", "rejected", "error", "upstream").
var FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auproxy_fetch_attempts_total",
	Help: "Upstream fetch attempts",
}, []string{"outcome"})

// SessionRegenerations counts how often the browser session was rebuilt after
// a bot-challenge rejection.
var SessionRegenerations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "auproxy_session_regenerations_total",
	Help: "Session regenerations triggered by upstream rejections",
})

// CacheLookups counts resolution cache lookups by result ("hit", "miss").
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auproxy_cache_lookups_total",
	Help: "Resolution cache lookups",
}, []string{"result"})

// ResolveFailures counts failed stream resolutions by kind
// ("upstream", "parse", "not_found", "transport").
var ResolveFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "auproxy_resolve_failures_total",
	Help: "Failed stream resolutions",
}, []string{"kind"})

// BytesRelayed counts media bytes copied to clients.
var BytesRelayed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "auproxy_bytes_relayed_total",
	Help: "Total media bytes relayed to clients",
})

// ActiveRelays tracks the number of in-flight media relay connections.
var ActiveRelays = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "auproxy_active_relays",
	Help: "In-flight media relay connections",
})
