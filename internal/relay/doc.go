// Package relay implements the connection registry and broadcast fan-out
// engine behind the relay server.
//
// A Hub owns a Registry of live connections and a Broadcaster. Each accepted
// connection is driven by Hub.Serve, which registers it, relays every
// inbound text message to all other members, and deregisters it on every
// exit path. The package knows nothing about HTTP or WebSockets; transports
// plug in through the Conn interface.
package relay
