// Package pipeline wires kapply's stages into a controller-idioms handler
// chain.
//
// An apply run is:
//
//	fetch-sources -> load-manifests -> default-namespaces -> order-resources
//	  -> execute -> prune -> record-inventory -> report
//
// Each handler reads its inputs from typed context keys, stores its output
// under its own key and calls the next handler. A handler that fails calls
// CtxQueue.RequeueErr and stops the chain; the error surfaces from Run.
// Plan and Delete reuse the first four handlers.
package pipeline
