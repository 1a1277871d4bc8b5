// Package metrics aggregates in-memory counters for the orchestrator's
// connection lifecycle and routing decisions and exposes them as a
// Prometheus text scrape endpoint.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Recorder aggregates in-memory counters for connection lifecycle
// transitions and routing decisions. It coordinates concurrent writers via a
// RWMutex guarding the label maps; the scalar counters use atomics.
type Recorder struct {
	mu               sync.RWMutex
	connectionStates map[string]uint64
	routesOpened     atomic.Int64
	routesClosed     atomic.Int64
	malformedFrames  atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		connectionStates: make(map[string]uint64),
	}
}

// Default returns the singleton Recorder instance shared across packages
// that do not require a dedicated instrumentation pipeline.
func Default() *Recorder {
	return defaultRecorder
}

// ConnectionStateEntered records an orchestrator connection transitioning
// into the named lifecycle state (e.g. "pending", "active", "closed").
func (r *Recorder) ConnectionStateEntered(state string) {
	normalized := normalizeName(state)
	r.mu.Lock()
	r.connectionStates[normalized]++
	r.mu.Unlock()
}

// RouteOpened records one StreamRelay start instruction issued by the
// orchestrator's routing core.
func (r *Recorder) RouteOpened() {
	r.routesOpened.Add(1)
}

// RouteClosed records one StreamRelay stop instruction issued by the
// orchestrator's routing core.
func (r *Recorder) RouteClosed() {
	r.routesClosed.Add(1)
}

// MalformedFrameRejected records one inbound frame rejected by a Connection
// for carrying a malformed payload.
func (r *Recorder) MalformedFrameRejected() {
	r.malformedFrames.Add(1)
}

// Reset clears all counters on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectionStates = make(map[string]uint64)
	r.routesOpened.Store(0)
	r.routesClosed.Store(0)
	r.malformedFrames.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectionStates := r.sortedConnectionStates()
	fmt.Fprintln(w, "# HELP ftl_orchestrator_connection_states_total Connections entering each lifecycle state")
	fmt.Fprintln(w, "# TYPE ftl_orchestrator_connection_states_total counter")
	for _, state := range connectionStates {
		count := r.connectionStates[state]
		fmt.Fprintf(w, "ftl_orchestrator_connection_states_total{state=\"%s\"} %d\n", state, count)
	}

	fmt.Fprintln(w, "# HELP ftl_orchestrator_routes_opened_total StreamRelay start instructions issued")
	fmt.Fprintln(w, "# TYPE ftl_orchestrator_routes_opened_total counter")
	fmt.Fprintf(w, "ftl_orchestrator_routes_opened_total %d\n", r.routesOpened.Load())

	fmt.Fprintln(w, "# HELP ftl_orchestrator_routes_closed_total StreamRelay stop instructions issued")
	fmt.Fprintln(w, "# TYPE ftl_orchestrator_routes_closed_total counter")
	fmt.Fprintf(w, "ftl_orchestrator_routes_closed_total %d\n", r.routesClosed.Load())

	fmt.Fprintln(w, "# HELP ftl_orchestrator_malformed_frames_total Inbound frames rejected for malformed payloads")
	fmt.Fprintln(w, "# TYPE ftl_orchestrator_malformed_frames_total counter")
	fmt.Fprintf(w, "ftl_orchestrator_malformed_frames_total %d\n", r.malformedFrames.Load())
}

func (r *Recorder) sortedConnectionStates() []string {
	states := make([]string, 0, len(r.connectionStates))
	for state := range r.connectionStates {
		states = append(states, state)
	}
	sort.Strings(states)
	return states
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}

// ConnectionStateEntered records a connection lifecycle transition on the
// default recorder.
func ConnectionStateEntered(state string) {
	defaultRecorder.ConnectionStateEntered(state)
}

// RouteOpened records a route open on the default recorder.
func RouteOpened() {
	defaultRecorder.RouteOpened()
}

// RouteClosed records a route close on the default recorder.
func RouteClosed() {
	defaultRecorder.RouteClosed()
}

// MalformedFrameRejected records a malformed-frame rejection on the default
// recorder.
func MalformedFrameRejected() {
	defaultRecorder.MalformedFrameRejected()
}
