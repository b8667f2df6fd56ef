// Package hub is the realtime broadcast hub.
//
// Each websocket connection gets a buffered send queue drained by its own
// write pump. Broadcast serializes an event once and queues it for every
// live connection without blocking; a connection whose queue is full, or
// whose socket write fails, is removed from the live set. Nothing is
// buffered for clients that are not connected. Instead every new
// connection first receives a snapshot event built by Hooks.Snapshot.
//
// Clients may send only two kinds of message, each as {"type","data"}:
//
//	favorite-update {assetId, userId, isFavorite}  applied, then relayed to the other clients
//	view            {assetId, viewerId}            recorded through Hooks.View
//
// Anything else is dropped with a warning.
package hub
