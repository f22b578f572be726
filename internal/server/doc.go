// Package server implements the WebSocket transport and HTTP surface of the
// chat relay.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers. The hub's event loop is
// the single owner of the relay state in internal/relay; connection pumps and
// HTTP handlers only talk to it through channels.
package server
