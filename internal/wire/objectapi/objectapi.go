// Package objectapi implements the S3-style REST+XML dialect: path
// -style buckets, bucket lifecycle at the bucket root, object
// lifecycle under a bucket-prefixed key, and listV2 paging — the
// fallback dialect for any request the other three don't claim.
package objectapi

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conorvenus/microstack/internal/apierror"
	"github.com/conorvenus/microstack/internal/objectstore"
	"github.com/conorvenus/microstack/internal/wire"
)

// Handler dispatches bucket and object requests by path-style routing:
// the first path segment is the bucket name, the remainder (if any)
// is the object key.
func Handler(store *objectstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bucket, key, hasKey := splitPath(r.URL.Path)

		switch {
		case bucket == "" && r.Method == http.MethodGet:
			listBuckets(store, w, r)
		case bucket == "" && r.Method == http.MethodPut:
			wire.WriteXMLError(w, apierror.New(apierror.InvalidArgument, "bucket name must not be empty"))
		case !hasKey && r.Method == http.MethodPut:
			createBucket(store, bucket, w, r)
		case !hasKey && r.Method == http.MethodDelete:
			deleteBucket(store, bucket, w, r)
		case !hasKey && r.Method == http.MethodHead:
			headBucket(store, bucket, w, r)
		case !hasKey && r.Method == http.MethodGet:
			listObjectsV2(store, bucket, w, r)
		case hasKey && r.Method == http.MethodPut:
			putObject(store, bucket, key, w, r)
		case hasKey && r.Method == http.MethodGet:
			getObject(store, bucket, key, w, r)
		case hasKey && r.Method == http.MethodHead:
			headObject(store, bucket, key, w, r)
		case hasKey && r.Method == http.MethodDelete:
			deleteObject(store, bucket, key, w, r)
		default:
			wire.WriteXMLError(w, apierror.New(apierror.InvalidArgument, "unsupported request %s %s", r.Method, r.URL.Path))
		}
	}
}

// splitPath turns "/bucket/some/key" into ("bucket", "some/key", true)
// and "/bucket" or "/bucket/" into ("bucket", "", false).
func splitPath(path string) (bucket, key string, hasKey bool) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", "", false
	}
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return trimmed, "", false
	}
	bucket = trimmed[:idx]
	key = trimmed[idx+1:]
	return bucket, key, key != ""
}

type listAllMyBucketsResult struct {
	XMLName xml.Name    `xml:"ListAllMyBucketsResult"`
	Buckets []bucketDoc `xml:"Buckets>Bucket"`
}

type bucketDoc struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

func listBuckets(store *objectstore.Store, w http.ResponseWriter, r *http.Request) {
	buckets := store.ListBuckets()
	out := make([]bucketDoc, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, bucketDoc{Name: b.Name, CreationDate: b.CreationTime.Format(time.RFC3339)})
	}
	writeXML(w, http.StatusOK, listAllMyBucketsResult{Buckets: out})
}

func createBucket(store *objectstore.Store, bucket string, w http.ResponseWriter, r *http.Request) {
	if _, err := store.CreateBucket(bucket); err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func deleteBucket(store *objectstore.Store, bucket string, w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteBucket(bucket); err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func headBucket(store *objectstore.Store, bucket string, w http.ResponseWriter, r *http.Request) {
	if _, err := store.HeadBucket(bucket); err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type listBucketResult struct {
	XMLName               xml.Name    `xml:"ListBucketResult"`
	Name                  string      `xml:"Name"`
	Prefix                string      `xml:"Prefix"`
	KeyCount              int         `xml:"KeyCount"`
	MaxKeys               int         `xml:"MaxKeys"`
	IsTruncated           bool        `xml:"IsTruncated"`
	NextContinuationToken string      `xml:"NextContinuationToken,omitempty"`
	Contents              []objectDoc `xml:"Contents"`
}

type objectDoc struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

func listObjectsV2(store *objectstore.Store, bucket string, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix := q.Get("prefix")
	token := q.Get("continuation-token")

	// -1 tells Store.ListV2 "unset, use the default"; an explicit
	// max-keys=0 must reach it as a literal 0, not get upgraded.
	maxKeys := -1
	if raw := q.Get("max-keys"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			wire.WriteXMLError(w, apierror.New(apierror.InvalidArgument, "max-keys: %v", err))
			return
		}
		maxKeys = n
	}

	result, err := store.ListV2(bucket, prefix, maxKeys, token)
	if err != nil {
		wire.WriteXMLError(w, err)
		return
	}

	contents := make([]objectDoc, 0, len(result.Keys))
	for _, obj := range result.Keys {
		contents = append(contents, objectDoc{
			Key:          obj.Key,
			LastModified: obj.LastModified.Format(time.RFC3339),
			ETag:         `"` + obj.ETag + `"`,
			Size:         int64(len(obj.Body)),
		})
	}

	echoedMaxKeys := maxKeys
	if echoedMaxKeys < 0 {
		echoedMaxKeys = 1000
	}
	writeXML(w, http.StatusOK, listBucketResult{
		Name:                  bucket,
		Prefix:                prefix,
		KeyCount:              len(contents),
		MaxKeys:               echoedMaxKeys,
		IsTruncated:           result.IsTruncated,
		NextContinuationToken: result.NextContinuationToken,
		Contents:              contents,
	})
}

func putObject(store *objectstore.Store, bucket, key string, w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		wire.WriteXMLError(w, apierror.New(apierror.InvalidArgument, "reading request body: %v", err))
		return
	}

	obj, err := store.PutObject(bucket, key, body, r.Header.Get("Content-Type"))
	if err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	w.WriteHeader(http.StatusOK)
}

func getObject(store *objectstore.Store, bucket, key string, w http.ResponseWriter, r *http.Request) {
	obj, err := store.GetObject(bucket, key)
	if err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	w.Header().Set("Last-Modified", obj.LastModified.Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Body)
}

func headObject(store *objectstore.Store, bucket, key string, w http.ResponseWriter, r *http.Request) {
	obj, err := store.HeadObject(bucket, key)
	if err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("ETag", `"`+obj.ETag+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Body)))
	w.Header().Set("Last-Modified", obj.LastModified.Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
}

func deleteObject(store *objectstore.Store, bucket, key string, w http.ResponseWriter, r *http.Request) {
	if err := store.DeleteObject(bucket, key); err != nil {
		wire.WriteXMLError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeXML(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(body)
}
