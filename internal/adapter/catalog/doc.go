// Package catalog is the HTTP client for the hosted content catalog.
//
// Endpoints:
//
//	GET /api/records         full listing, {"records": [...]}
//	GET /api/records/{key}   single record, 404 when unknown
//	GET /api/selections      the signed-in user's image choices, {"selections": {"key": slot}}
//
// Artwork URLs inside records are absolute and fetched without credentials.
package catalog
