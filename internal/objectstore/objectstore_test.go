package objectstore

import (
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/conorvenus/microstack/internal/apierror"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := New()
	if _, err := s.CreateBucket("my-bucket"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := []byte("hello world")
	if _, err := s.PutObject("my-bucket", "k", body, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obj, err := s.GetObject("my-bucket", "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(obj.Body) != string(body) {
		t.Fatalf("expected body %q, got %q", body, obj.Body)
	}
	if obj.ContentType != "application/octet-stream" {
		t.Fatalf("expected default content type, got %q", obj.ContentType)
	}

	sum := md5.Sum(body)
	want := hex.EncodeToString(sum[:])
	if obj.ETag != want {
		t.Fatalf("expected etag %q, got %q", want, obj.ETag)
	}
}

func TestDeleteNonEmptyBucketFails(t *testing.T) {
	s := New()
	if _, err := s.CreateBucket("bkt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.PutObject("bkt", "k", []byte("x"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.DeleteBucket("bkt")
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.Conflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestInvalidBucketName(t *testing.T) {
	s := New()
	_, err := s.CreateBucket("A")
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestListV2Pagination(t *testing.T) {
	s := New()
	if _, err := s.CreateBucket("bkt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if _, err := s.PutObject("bkt", k, []byte(k), ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	page1, err := s.ListV2("bkt", "", 2, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertKeys(t, page1, []string{"a", "b"}, true, "b")

	page2, err := s.ListV2("bkt", "", 2, page1.NextContinuationToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertKeys(t, page2, []string{"c", "d"}, true, "d")

	page3, err := s.ListV2("bkt", "", 2, page2.NextContinuationToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertKeys(t, page3, []string{"e"}, false, "")
}

func assertKeys(t *testing.T, result *ListV2Result, want []string, wantTruncated bool, wantNext string) {
	t.Helper()
	if len(result.Keys) != len(want) {
		t.Fatalf("expected %d keys, got %d (%+v)", len(want), len(result.Keys), result.Keys)
	}
	for i, k := range want {
		if result.Keys[i].Key != k {
			t.Fatalf("expected key %q at index %d, got %q", k, i, result.Keys[i].Key)
		}
	}
	if result.IsTruncated != wantTruncated {
		t.Fatalf("expected isTruncated=%v, got %v", wantTruncated, result.IsTruncated)
	}
	if result.NextContinuationToken != wantNext {
		t.Fatalf("expected next token %q, got %q", wantNext, result.NextContinuationToken)
	}
}

func TestListV2ExplicitZeroMaxKeysStaysEmpty(t *testing.T) {
	s := New()
	if _, err := s.CreateBucket("bkt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if _, err := s.PutObject("bkt", k, []byte(k), ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := s.ListV2("bkt", "", 0, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Keys) != 0 {
		t.Fatalf("expected explicit max-keys=0 to return an empty page, got %+v", result.Keys)
	}
	if !result.IsTruncated {
		t.Fatal("expected isTruncated=true when objects remain beyond an empty page")
	}
}

func TestListV2TokenPastEndIsEmpty(t *testing.T) {
	s := New()
	if _, err := s.CreateBucket("bkt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.PutObject("bkt", "a", []byte("a"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := s.ListV2("bkt", "", 10, "z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Keys) != 0 {
		t.Fatalf("expected empty page, got %+v", result.Keys)
	}
}
