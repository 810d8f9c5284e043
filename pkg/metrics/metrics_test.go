package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordApply(t *testing.T) {
	before := testutil.ToFloat64(applyTotal.WithLabelValues("success", "apply", "v1/ConfigMap"))
	RecordApply("success", "apply", "v1/ConfigMap", 0.01)
	after := testutil.ToFloat64(applyTotal.WithLabelValues("success", "apply", "v1/ConfigMap"))

	if after != before+1 {
		t.Errorf("expected counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestWriteTextfile(t *testing.T) {
	RecordPrune("pruned", "v1/ConfigMap")

	path := filepath.Join(t.TempDir(), "kapply.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "kapply_prune_total") {
		t.Errorf("textfile does not contain kapply_prune_total:\n%s", data)
	}
}
