// Package ingest accepts uploaded images and turns them into gallery assets.
//
// An upload is staged first: the declared type is checked against the
// allow-list before anything touches disk, then the body is streamed into a
// temp file inside the upload directory while it is hashed and its content
// type is sniffed. Commit claims a unique storage name with a no-clobber
// hard link, derives the thumbnail and metadata, records the asset and
// announces it to live viewers. A failed ingestion leaves no files behind.
package ingest
