package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`[{"external_id":"1"}]`)
	uri, err := store.PutObject(context.Background(), "raw/reddit/job.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://raw/reddit/job.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = '{'
	obj, ok := store.Get("raw/reddit/job.json")
	if !ok {
		t.Fatal("object not stored")
	}
	if string(obj.Data) != `[{"external_id":"1"}]` {
		t.Fatalf("expected stored copy to be immutable, got %q", obj.Data)
	}
	if obj.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", obj.ContentType)
	}
	if got := store.Paths(); len(got) != 1 {
		t.Fatalf("unexpected paths %v", got)
	}
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := NewBlobStore().PutObject(context.Background(), " ", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty path")
	}
}
