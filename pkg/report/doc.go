// Package report summarizes an apply, delete or prune run and prints it as
// a table, JSON, YAML or kubectl-style name lines.
package report
