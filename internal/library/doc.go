// Package library is the typed gallery model over the document store:
// assets, per-user favorites and albums.
//
// Each kind lives in its own store collection. Favorites are kept per user
// as a sorted set of asset ids, so an id appears at most once; albums keep
// their asset ids in curatorial order and allow repeats. Nothing in this
// package writes a collection except through store.Upsert.
package library
