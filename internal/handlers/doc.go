// Package handlers provides the HTTP handlers of the gallery API.
//
// It includes handlers for:
//   - Streaming multipart uploads
//   - Asset listing, lookup and metadata edits
//   - Favorites, tags and albums
//   - View analytics
//   - Transform job submission and status
//   - Health, readiness, version and metrics endpoints
//
// Every JSON response uses the envelope {"success": true, "data": ...} or
// {"success": false, "error": "..."}. Errors from the gallery packages are
// mapped to status codes in statusForError.
package handlers
