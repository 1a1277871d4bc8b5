// Package orchestrator implements the routing core: it owns the connection
// manager and the two Stores, reacts to the seven events a Connection raises,
// and issues StreamRelay instructions that open and close routes between
// origins and subscribers.
package orchestrator
