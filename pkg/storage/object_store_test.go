package storage

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestAssetKey(t *testing.T) {
	tests := []struct {
		mime string
		kind string
		want string
	}{
		{"audio/mpeg", "audio", "projects/p1/audio/a1.mp3"},
		{"audio/wav", "audio", "projects/p1/audio/a1.wav"},
		{"image/png", "images", "projects/p1/images/a1.png"},
		{"image/jpeg; charset=binary", "images", "projects/p1/images/a1.jpg"},
		{"application/octet-stream", "images", "projects/p1/images/a1.bin"},
	}
	for _, tc := range tests {
		if got := AssetKey("p1", tc.kind, "a1", tc.mime); got != tc.want {
			t.Fatalf("AssetKey(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}

func TestMemoryStorePutPresignDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "projects/p1/audio/a1.mp3", bytes.NewReader([]byte("abc")), 3, "audio/mpeg"); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, ok := s.Get("projects/p1/audio/a1.mp3")
	if !ok || string(obj.Data) != "abc" || obj.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected object: %+v ok=%v", obj, ok)
	}
	url, err := s.PresignGet(ctx, "projects/p1/audio/a1.mp3", time.Minute)
	if err != nil || !strings.HasPrefix(url, "memory://") {
		t.Fatalf("presign: %q err=%v", url, err)
	}
	if err := s.Delete(ctx, "projects/p1/audio/a1.mp3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.PresignGet(ctx, "projects/p1/audio/a1.mp3", time.Minute); err == nil {
		t.Fatalf("expected presign of deleted object to fail")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(context.Background(), Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
	s, err := New(context.Background(), Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(context.Background(), Config{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket to fail")
	}
}

func TestS3StorePresignGetUsesEndpoint(t *testing.T) {
	s, err := NewS3Store(context.Background(), Config{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "studio",
	})
	if err != nil {
		t.Fatalf("new s3 store: %v", err)
	}
	url, err := s.PresignGet(context.Background(), "projects/p1/images/a1.png", 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:9000/studio/projects/p1/images/a1.png?") {
		t.Fatalf("unexpected presigned url: %s", url)
	}
	if !strings.Contains(url, "X-Amz-Expires=900") {
		t.Fatalf("expected 15m expiry in url: %s", url)
	}
}
