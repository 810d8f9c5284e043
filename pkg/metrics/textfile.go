package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// WriteTextfile writes everything registered on the controller-runtime
// registry to path in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return writeTextfile(path, metrics.Registry)
}

func writeTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
