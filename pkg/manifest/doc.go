// Package manifest loads declarative resource manifests from YAML, JSON and
// CUE sources into Descriptors, and resolves the namespace each one would be
// applied to.
package manifest
