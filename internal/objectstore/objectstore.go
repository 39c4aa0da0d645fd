// Package objectstore implements the object store (component B): a
// bucket/object key-value store with listing, byte-accurate payloads,
// and ETag computation.
//
// Same aggregate shape as internal/ledger — one sync.RWMutex guarding
// a map, with single ownership per store instance.
package objectstore

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conorvenus/microstack/internal/apierror"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// Object is a single stored object.
type Object struct {
	Key          string
	Body         []byte
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Bucket is a named collection of objects.
type Bucket struct {
	Name         string
	CreationTime time.Time
	objects      map[string]*Object
}

// Store is the single owner of all buckets.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
}

// New creates an empty object store.
func New() *Store {
	return &Store{buckets: make(map[string]*Bucket)}
}

// ValidateBucketName reports whether name meets the DNS-like bucket
// naming rule: lowercase letters, digits, dots and hyphens, 3-63
// characters, starting and ending with a letter or digit.
func ValidateBucketName(name string) bool {
	return bucketNamePattern.MatchString(name)
}

// CreateBucket creates an empty bucket. Fails with invalid-argument on
// a malformed name, already-exists if taken.
func (s *Store) CreateBucket(name string) (*Bucket, error) {
	if !ValidateBucketName(name) {
		return nil, apierror.New(apierror.InvalidArgument, "invalid bucket name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[name]; ok {
		return nil, apierror.New(apierror.AlreadyExists, "bucket %q already exists", name)
	}
	b := &Bucket{
		Name:         name,
		CreationTime: time.Now().UTC(),
		objects:      make(map[string]*Object),
	}
	s.buckets[name] = b
	return b, nil
}

// ListBuckets returns all buckets sorted by name.
func (s *Store) ListBuckets() []*Bucket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HeadBucket returns a bucket by name, or not-found.
func (s *Store) HeadBucket(name string) (*Bucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[name]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "bucket %q does not exist", name)
	}
	return b, nil
}

// DeleteBucket removes an empty bucket. Fails with not-found if
// absent, conflict if non-empty.
func (s *Store) DeleteBucket(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[name]
	if !ok {
		return apierror.New(apierror.NotFound, "bucket %q does not exist", name)
	}
	if len(b.objects) > 0 {
		return apierror.New(apierror.Conflict, "bucket %q is not empty", name)
	}
	delete(s.buckets, name)
	return nil
}

// PutObject stores an object's body under key in bucket, computing its
// ETag. contentType defaults to application/octet-stream when empty.
func (s *Store) PutObject(bucket, key string, body []byte, contentType string) (*Object, error) {
	if key == "" {
		return nil, apierror.New(apierror.InvalidArgument, "object key must be non-empty")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "bucket %q does not exist", bucket)
	}

	sum := md5.Sum(body)
	obj := &Object{
		Key:          key,
		Body:         body,
		ETag:         hex.EncodeToString(sum[:]),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}
	b.objects[key] = obj
	return obj, nil
}

// GetObject returns an object by key.
func (s *Store) GetObject(bucket, key string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "bucket %q does not exist", bucket)
	}
	obj, ok := b.objects[key]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "key %q does not exist", key)
	}
	return obj, nil
}

// HeadObject is an alias of GetObject — the store keeps no separate
// metadata-only representation since objects are held in memory.
func (s *Store) HeadObject(bucket, key string) (*Object, error) {
	return s.GetObject(bucket, key)
}

// DeleteObject removes an object. Fails with not-found if the bucket or
// key is absent.
func (s *Store) DeleteObject(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return apierror.New(apierror.NotFound, "bucket %q does not exist", bucket)
	}
	if _, ok := b.objects[key]; !ok {
		return apierror.New(apierror.NotFound, "key %q does not exist", key)
	}
	delete(b.objects, key)
	return nil
}

// ListV2Result is the outcome of a listV2 query.
type ListV2Result struct {
	Keys                  []*Object
	IsTruncated           bool
	NextContinuationToken string
}

// ListV2 lists objects in bucket whose key starts with prefix, paged by
// maxKeys and continuationToken:
//   - candidates are sorted ascending by key
//   - if a token is supplied, the first returned key must be strictly
//     greater than the token
//   - the page is maxKeys long; if more remain, IsTruncated is true and
//     NextContinuationToken is the last returned key
//   - maxKeys < 0 means "unset" and defaults to 1000; maxKeys == 0 is a
//     valid, explicit request for an empty page
func (s *Store) ListV2(bucket, prefix string, maxKeys int, continuationToken string) (*ListV2Result, error) {
	if maxKeys < 0 {
		maxKeys = 1000
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[bucket]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "bucket %q does not exist", bucket)
	}

	candidates := make([]*Object, 0, len(b.objects))
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			candidates = append(candidates, obj)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Key < candidates[j].Key })

	start := 0
	if continuationToken != "" {
		start = len(candidates)
		for i, obj := range candidates {
			if obj.Key > continuationToken {
				start = i
				break
			}
		}
	}

	remaining := candidates[start:]
	page := remaining
	truncated := false
	if len(remaining) > maxKeys {
		page = remaining[:maxKeys]
		truncated = true
	}

	result := &ListV2Result{Keys: page, IsTruncated: truncated}
	if truncated && len(page) > 0 {
		result.NextContinuationToken = page[len(page)-1].Key
	}
	return result, nil
}
