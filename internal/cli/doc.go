// Package cli implements the kapply command line.
package cli
