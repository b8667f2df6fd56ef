// Package analytics tracks per-asset views: a monotonic view count, the
// sorted set of distinct viewer ids and the time of the last view.
//
// Records live in the "analytics" store collection and every view is a
// single store upsert, so concurrent views serialize on that collection.
package analytics
