// Package middleware provides HTTP middleware for the gallery server.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
//   - gzip compression of JSON and text responses
//
// Every wrapper passes http.Hijacker through or steps aside for upgrade
// requests, so the realtime websocket endpoint works behind the chain.
package middleware
