package artifact_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyashahama/email-sequence-backend/internal/artifact"
)

// fakeBucket accepts path-style PUTs and remembers the last object.
type fakeBucket struct {
	mu          sync.Mutex
	path        string
	body        []byte
	contentType string
	status      int
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	if r.Method == http.MethodPut {
		f.path, f.body, f.contentType = r.URL.Path, body, r.Header.Get("Content-Type")
	}
	w.WriteHeader(f.status)
}

func newArchiver(t *testing.T, status int) (*fakeBucket, *artifact.S3Archiver) {
	t.Helper()
	fb := &fakeBucket{status: status}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	a, err := artifact.NewS3Archiver(context.Background(), artifact.Config{
		Bucket:          "results",
		Region:          "auto",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDTEST",
		SecretAccessKey: "secret",
		Prefix:          "orders",
		LinkTTL:         time.Hour,
	})
	require.NoError(t, err)
	return fb, a
}

func TestArchive_UploadsAndPresigns(t *testing.T) {
	fb, a := newArchiver(t, http.StatusOK)
	csv := []byte(`"name"` + "\n" + `"Ann"`)

	url, err := a.Archive(context.Background(), "order-1", csv)
	require.NoError(t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, "/results/orders/order-1.csv", fb.path)
	assert.Equal(t, csv, fb.body)
	assert.True(t, strings.HasPrefix(fb.contentType, "text/csv"))

	assert.Contains(t, url, "/results/orders/order-1.csv")
	assert.Contains(t, url, "X-Amz-Signature=")
	assert.Contains(t, url, "X-Amz-Expires=3600")
}

func TestArchive_UploadFailure(t *testing.T) {
	_, a := newArchiver(t, http.StatusForbidden)

	_, err := a.Archive(context.Background(), "order-1", []byte("x"))
	assert.Error(t, err)
}

func TestNewS3Archiver_RequiresBucket(t *testing.T) {
	_, err := artifact.NewS3Archiver(context.Background(), artifact.Config{Region: "us-east-1"})
	assert.Error(t, err)
}
