package registry

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/conorvenus/microstack/internal/apierror"
)

func TestCreateSetsDigestAndVersion(t *testing.T) {
	r := New()
	bundle := []byte("zip-bytes")
	rec, err := r.Create(CreateInput{
		Name:       "f",
		Runtime:    SupportedRuntime,
		Handler:    "index.handler",
		CodeBundle: bundle,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sum := sha256.Sum256(bundle)
	want := base64.StdEncoding.EncodeToString(sum[:])
	if rec.CodeDigest != want {
		t.Fatalf("expected digest %q, got %q", want, rec.CodeDigest)
	}
	if rec.Version != 1 {
		t.Fatalf("expected version 1, got %d", rec.Version)
	}
	if rec.TimeoutSeconds != 3 {
		t.Fatalf("expected default timeout 3, got %d", rec.TimeoutSeconds)
	}
}

func TestUpdateCodeBumpsVersionOnly(t *testing.T) {
	r := New()
	if _, err := r.Create(CreateInput{Name: "f", Runtime: SupportedRuntime, Handler: "i.h", CodeBundle: []byte("v1")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := r.UpdateCode("f", []byte("v2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("expected version 2 after updateCode, got %d", rec.Version)
	}

	role := "arn:aws:iam::000000000000:role/test"
	rec2, err := r.UpdateConfig("f", ConfigPatch{Role: &role})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec2.Version != 2 {
		t.Fatalf("expected version unchanged after updateConfig, got %d", rec2.Version)
	}
	if rec2.Role != role {
		t.Fatalf("expected role updated, got %q", rec2.Role)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	r := New()
	in := CreateInput{Name: "f", Runtime: SupportedRuntime, Handler: "i.h", CodeBundle: []byte("x")}
	if _, err := r.Create(in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := r.Create(in)
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestCreateUnsupportedRuntime(t *testing.T) {
	r := New()
	_, err := r.Create(CreateInput{Name: "f", Runtime: "python3.12", Handler: "i.h", CodeBundle: []byte("x")})
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGetMissingNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	apiErr, ok := apierror.As(err)
	if !ok || apiErr.Kind != apierror.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
