package storage

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestMapMinioErrorNotFound(t *testing.T) {
	err := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "missing"}
	if !errors.Is(mapMinioError(err), ErrNotFound) {
		t.Fatal("expected NoSuchKey to map to ErrNotFound")
	}

	other := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	if errors.Is(mapMinioError(other), ErrNotFound) {
		t.Fatal("expected AccessDenied to stay distinct from ErrNotFound")
	}
}
