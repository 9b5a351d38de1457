package server

import (
	"time"
)

const (
	// ProductName identifies this node in the wire hello/handshake.
	ProductName = "splinterd"
	// ServerVersion is the build's self-reported version string.
	ServerVersion = "dev"

	// MDBInitialSize is the initial map size handed to the embedded
	// KV state engine (scabbard/store).
	MDBInitialSize = 1048576

	// DefaultPort is the default mesh listen port.
	DefaultPort = 8044
	// DefaultPrometheusPort exposes /metrics.
	DefaultPrometheusPort = 8079
	// DefaultOperatorRPCPort exposes the internal adminapi gRPC surface.
	DefaultOperatorRPCPort = 8045

	// MaxEventsPerTurn is a per-turn readiness budget (spec.md §4.1).
	// The mesh reactor does not reference it: control requests are its
	// only select traffic and each connection has its own reader
	// goroutine.
	MaxEventsPerTurn = 256

	// FrameLengthPrefixBytes is the width of the big-endian frame length.
	FrameLengthPrefixBytes = 4
	// MaxFrameLength rejects absurd length prefixes before allocating.
	MaxFrameLength = 1 << 24 // 16MiB

	// ConnectionRestartDelayMin and Range are reconnect-jitter bounds;
	// the mesh does not dial or reconnect, and nothing references them.
	ConnectionRestartDelayMin     = 3 * time.Second
	ConnectionRestartDelayRangeMS = 5000

	// MostRandomByteIndex is the byte used to key objects (TxnId in
	// the teacher, CircuitId/ServiceId digests here) into a fixed-size
	// pool of executors; see dispatch.Dispatcher and timer.Timer.
	MostRandomByteIndex = 7

	// ServiceTimerInterval is the Timer's default tick period (spec.md §4.6).
	ServiceTimerInterval = 20 * time.Millisecond

	// DefaultCoordinatorTimeout and DefaultDecisionTimeout are the 2PC
	// alarm durations (spec.md §4.5).
	DefaultCoordinatorTimeout = 5 * time.Second
	DefaultDecisionTimeout    = 5 * time.Second

	// DefaultAccessTokenDuration and DefaultRefreshTokenDuration are
	// the external credential-store defaults named in spec.md §6.
	DefaultAccessTokenDuration  = 5400 * time.Second
	DefaultRefreshTokenDuration = 5184000 * time.Second

	// CircuitIdLen and ServiceIdLen are the encoded lengths of the
	// identifier grammars (spec.md §3, §6).
	CircuitIdLen = 11 // "xxxxx-xxxxx"
	ServiceIdLen = 4

	// SupervisorBackoffBase and SupervisorBackoffCap bound the supervisor's
	// reconciliation retry backoff (spec.md §9 Open Question).
	SupervisorBackoffBase = 250 * time.Millisecond
	SupervisorBackoffCap  = 30 * time.Second

	// ConfigRootName and MetricsRootName are reserved document names;
	// nothing references them, and the admin store's Schema holds no
	// documents under them.
	ConfigRootName  = "system:config"
	MetricsRootName = "system:metrics"
)
