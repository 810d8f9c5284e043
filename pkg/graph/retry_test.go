package graph

import (
	"errors"
	"fmt"
	"testing"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

func TestRetryable(t *testing.T) {
	gr := schema.GroupResource{Group: "apps", Resource: "deployments"}
	gk := schema.GroupKind{Group: "apps", Kind: "Deployment"}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network error", errors.New("connection refused"), true},
		{"server timeout", apierrors.NewServerTimeout(gr, "patch", 1), true},
		{"too many requests", apierrors.NewTooManyRequests("slow down", 1), true},
		{"not found", apierrors.NewNotFound(gr, "web"), true},
		{"conflict", apierrors.NewConflict(gr, "web", errors.New("owned")), false},
		{"wrapped conflict", fmt.Errorf("apply: %w", apierrors.NewConflict(gr, "web", errors.New("owned"))), false},
		{"invalid", apierrors.NewInvalid(gk, "web", field.ErrorList{field.Required(field.NewPath("spec"), "")}), false},
		{"forbidden", apierrors.NewForbidden(gr, "web", errors.New("rbac")), false},
		{"bad request", apierrors.NewBadRequest("nope"), false},
		{"unauthorized", apierrors.NewUnauthorized("who"), false},
		{"method not supported", apierrors.NewMethodNotSupported(gr, "patch"), false},
		{"too large", apierrors.NewRequestEntityTooLargeError("big"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
