// Package inventory records which resources an apply run created or
// configured so that a later run can prune the ones that left the manifest
// set. The record is kept in a ConfigMap in the target cluster.
package inventory
