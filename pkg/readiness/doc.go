// Package readiness evaluates readiness predicates against the live state of
// applied resources, and supplies the default predicates for each kind.
package readiness
