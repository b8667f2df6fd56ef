// Command gallery-watch follows a gallery server's realtime stream from the
// terminal.
//
// It connects to the server's websocket endpoint, rebuilds the gallery from
// the snapshot sent on connect and prints one line per change. When stdout
// is a terminal the lines are human readable; otherwise each change is
// written as a JSON object so the output can be piped into other tools.
//
// Usage:
//
//	gallery-watch [-url ws://localhost:8080/ws] [-user id] [-retry 2s] [-attempts 5]
//
// The connection is retried after a fixed delay. After the configured
// number of consecutive failed handshakes the command exits with status 1.
package main
