// Package apply submits resources to the API server (server-side apply,
// create-only, adoption), prunes inventory entries that left the manifest
// set, and deletes a resource set in reverse dependency order.
package apply
