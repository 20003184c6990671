// Package server is the HTTP front of the relay.
//
// It loads configuration, answers health checks, upgrades WebSocket
// requests and hands every accepted connection to a relay.Hub. The
// registry and broadcast logic live in package relay; this package only
// deals with HTTP plumbing and process lifecycle.
package server
