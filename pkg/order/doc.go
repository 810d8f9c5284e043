// Package order works out the dependencies between manifest descriptors and
// turns them into an apply graph.
//
// Three kinds of edge are derived: a namespaced object depends on its
// Namespace, an object depends on the objects it names (ConfigMaps and
// Secrets mounted by a pod template, the Service of a StatefulSet, the CRD of
// a custom resource, ...), and anything listed in the kapply.io/depends-on
// annotation. With StrictKindOrder every object additionally waits for the
// populated kind rank below its own.
package order
