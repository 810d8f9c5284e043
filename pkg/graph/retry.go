package graph

import (
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// permanentReasons are API rejections that another attempt cannot fix
var permanentReasons = []func(error) bool{
	apierrors.IsConflict,
	apierrors.IsInvalid,
	apierrors.IsForbidden,
	apierrors.IsBadRequest,
	apierrors.IsUnauthorized,
	apierrors.IsMethodNotSupported,
	apierrors.IsRequestEntityTooLargeError,
}

// retryable reports whether an apply error is worth another attempt.
// Anything not recognised as a permanent API rejection is retried.
func retryable(err error) bool {
	for _, permanent := range permanentReasons {
		if permanent(err) {
			return false
		}
	}
	return true
}
