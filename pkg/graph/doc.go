// Package graph provides the apply graph artifact built from a set of
// manifests, the DAG derived from it, and the executor that submits nodes in
// dependency order.
package graph
