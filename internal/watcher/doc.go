// Package watcher is the viewer side of the live event stream.
//
// A Client keeps a websocket open to the gallery server and applies every
// event to a Gallery. When the connection drops it retries the handshake
// after a fixed delay; after MaxAttempts consecutive failures it stops in
// StateDisconnected and Run returns ErrGaveUp. Each new connection starts
// with a snapshot event, so the Gallery is rebuilt rather than replayed.
package watcher
