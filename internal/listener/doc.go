// Package listener accepts peer TCP connections, wraps each one in the
// PSK-authenticated transport and the Connection framing layer, and hands
// the result to the orchestrator's connection manager.
package listener
