package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestFSClientRoundTrip(t *testing.T) {
	c, err := NewFSClient(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	ctx := context.Background()
	payload := []byte("hello object store")

	if err := c.Upload(ctx, "images/abc", bytes.NewReader(payload), "application/octet-stream"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	exists, err := c.Exists(ctx, "images/abc")
	if err != nil || !exists {
		t.Fatalf("expected object to exist, got %v %v", exists, err)
	}

	got, err := c.Download(ctx, "images/abc")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("downloaded payload differs")
	}
}

func TestFSClientMissingObject(t *testing.T) {
	c, err := NewFSClient(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	ctx := context.Background()

	if _, err := c.Download(ctx, "images/missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	exists, err := c.Exists(ctx, "images/missing")
	if err != nil || exists {
		t.Errorf("expected missing object, got %v %v", exists, err)
	}
	// Deleting a missing object is not an error.
	if err := c.Delete(ctx, "images/missing"); err != nil {
		t.Errorf("delete of missing object failed: %v", err)
	}
}

func TestFSClientList(t *testing.T) {
	c, err := NewFSClient(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"masks/img1/a.json", "masks/img1/b.json", "masks/img2/c.json", "images/x"} {
		if err := c.Upload(ctx, key, bytes.NewReader([]byte("{}")), "application/json"); err != nil {
			t.Fatalf("upload %s failed: %v", key, err)
		}
	}

	keys, err := c.List(ctx, "masks/img1/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %v", keys)
	}
	if keys[0] != "masks/img1/a.json" || keys[1] != "masks/img1/b.json" {
		t.Errorf("unexpected keys: %v", keys)
	}

	// Unknown prefix lists empty, not an error.
	empty, err := c.List(ctx, "nothing/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no keys, got %v", empty)
	}
}

func TestFSClientOverwrite(t *testing.T) {
	c, err := NewFSClient(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	ctx := context.Background()

	if err := c.Upload(ctx, "images/abc", bytes.NewReader([]byte("v1")), "text/plain"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if err := c.Upload(ctx, "images/abc", bytes.NewReader([]byte("v2")), "text/plain"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, err := c.Download(ctx, "images/abc")
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("expected v2, got %s", got)
	}
}
