package router

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/conorvenus/microstack/internal/ledger"
	"github.com/conorvenus/microstack/internal/objectstore"
	"github.com/conorvenus/microstack/internal/orchestrator"
	"github.com/conorvenus/microstack/internal/registry"
	"github.com/conorvenus/microstack/internal/runtime"
)

func testSetup(t *testing.T) http.Handler {
	t.Helper()
	led := ledger.New()
	store := objectstore.New()
	reg := registry.New()
	rt := runtime.New(reg, t.TempDir(), nil)
	orch := orchestrator.New(
		&orchestrator.LambdaFunctionAdapter{Registry: reg},
		&orchestrator.LogGroupResourceAdapter{Ledger: led},
		&orchestrator.BucketResourceAdapter{Store: store},
	)
	log := zerolog.New(io.Discard).With().Timestamp().Logger()
	return New(log, 1<<20, led, store, reg, rt, orch)
}

func zipBundle(t *testing.T, name, content string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealthEndpoint(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/microstack/health", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Result().StatusCode)
	}
	var body map[string]string
	if err := json.Unmarshal(rw.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodOptions, "/2015-03-31/functions", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 on preflight, got %d", rw.Result().StatusCode)
	}
	if rw.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("expected CORS Allow-Origin header on preflight response")
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/microstack/health", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	headers := []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"}
	for _, h := range headers {
		if rw.Header().Get(h) == "" {
			t.Fatalf("expected security header %s to be set", h)
		}
	}
}

// TestFunctionInvocationRoundTrip drives the create-then-invoke path
// through the full HTTP stack: REST+JSON create under
// /2015-03-31/functions, then an invocation against the deployed code.
func TestFunctionInvocationRoundTrip(t *testing.T) {
	r := testSetup(t)

	createBody := fmt.Sprintf(`{
		"FunctionName": "greet",
		"Runtime": "nodejs18.x",
		"Role": "arn:aws:iam::000000000000:role/exec",
		"Handler": "index.handler",
		"Timeout": 3,
		"Code": {"ZipFile": "%s"}
	}`, zipBundle(t, "index.mjs", `// handler:echo
{"greeting":"hello"}`))

	req := httptest.NewRequest(http.MethodPost, "/2015-03-31/functions", strings.NewReader(createBody))
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating function, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}

	invokeReq := httptest.NewRequest(http.MethodPost, "/2015-03-31/functions/greet/invocations", strings.NewReader(`{}`))
	invokeRW := httptest.NewRecorder()
	r.ServeHTTP(invokeRW, invokeReq)
	if invokeRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 invoking function, got %d: %s", invokeRW.Result().StatusCode, invokeRW.Body.String())
	}
	if invokeRW.Header().Get("X-Amz-Function-Error") != "" {
		t.Fatalf("unexpected function error header: %s", invokeRW.Header().Get("X-Amz-Function-Error"))
	}

	var payload map[string]string
	if err := json.Unmarshal(invokeRW.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload["greeting"] != "hello" {
		t.Fatalf("expected greeting hello, got %+v", payload)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/2015-03-31/functions/greet", nil)
	getRW := httptest.NewRecorder()
	r.ServeHTTP(getRW, getReq)
	if getRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 getting function, got %d", getRW.Result().StatusCode)
	}
}

func TestFunctionNotFoundRendersJSONError(t *testing.T) {
	r := testSetup(t)

	req := httptest.NewRequest(http.MethodGet, "/2015-03-31/functions/missing", nil)
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)

	if rw.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Result().StatusCode)
	}
	if rw.Header().Get("X-Amzn-ErrorType") == "" {
		t.Fatal("expected X-Amzn-ErrorType header on a rendered JSON error")
	}
}

// TestStackLifecycleThroughFormDialect drives CreateStack/DescribeStacks
// /DeleteStack through the form-urlencoded POST / dialect, with a
// template that provisions a log group.
func TestStackLifecycleThroughFormDialect(t *testing.T) {
	r := testSetup(t)

	template := `{
		"Resources": {
			"LogGroup": {
				"Type": "AWS::Logs::LogGroup",
				"Properties": {"LogGroupName": "/aws/lambda/stack-created"}
			}
		}
	}`

	form := url.Values{
		"Action":       {"CreateStack"},
		"StackName":    {"demo-stack"},
		"TemplateBody": {template},
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 creating stack, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}
	var createResp struct {
		XMLName xml.Name `xml:"CreateStackResponse"`
		Result  struct {
			StackID string `xml:"StackId"`
		} `xml:"CreateStackResult"`
	}
	if err := xml.Unmarshal(rw.Body.Bytes(), &createResp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if createResp.Result.StackID == "" {
		t.Fatal("expected a non-empty StackId")
	}

	describeForm := url.Values{"Action": {"DescribeStacks"}, "StackName": {"demo-stack"}}
	describeReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(describeForm.Encode()))
	describeReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	describeRW := httptest.NewRecorder()
	r.ServeHTTP(describeRW, describeReq)
	if !strings.Contains(describeRW.Body.String(), "CREATE_COMPLETE") {
		t.Fatalf("expected stack status CREATE_COMPLETE in response, got %s", describeRW.Body.String())
	}

	deleteForm := url.Values{"Action": {"DeleteStack"}, "StackName": {"demo-stack"}}
	deleteReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(deleteForm.Encode()))
	deleteReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	deleteRW := httptest.NewRecorder()
	r.ServeHTTP(deleteRW, deleteReq)
	if deleteRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 deleting stack, got %d: %s", deleteRW.Result().StatusCode, deleteRW.Body.String())
	}
}

// TestLogsDialectDispatchesOnAmzTarget exercises the AWS JSON 1.1
// header-routed dialect: no path routing at all, just X-Amz-Target.
func TestLogsDialectDispatchesOnAmzTarget(t *testing.T) {
	r := testSetup(t)

	createBody := `{"logGroupName":"/aws/lambda/manual"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(createBody))
	req.Header.Set("X-Amz-Target", "Logs_20140328.CreateLogGroup")
	rw := httptest.NewRecorder()
	r.ServeHTTP(rw, req)
	if rw.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 creating log group, got %d: %s", rw.Result().StatusCode, rw.Body.String())
	}

	describeBody := `{"logGroupNamePrefix":"/aws/lambda/manual"}`
	describeReq := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(describeBody))
	describeReq.Header.Set("X-Amz-Target", "Logs_20140328.DescribeLogGroups")
	describeRW := httptest.NewRecorder()
	r.ServeHTTP(describeRW, describeReq)
	if !strings.Contains(describeRW.Body.String(), "/aws/lambda/manual") {
		t.Fatalf("expected created log group in describe response, got %s", describeRW.Body.String())
	}
}

// TestObjectDialectFallbackPathStyle exercises the path-style S3
// fallback dialect: PutObject/GetObject reached through NotFound, and
// ListBuckets reached through MethodNotAllowed on the single
// registered POST / route.
func TestObjectDialectFallbackPathStyle(t *testing.T) {
	r := testSetup(t)

	putBucket := httptest.NewRequest(http.MethodPut, "/demo-bucket", nil)
	putBucketRW := httptest.NewRecorder()
	r.ServeHTTP(putBucketRW, putBucket)
	if putBucketRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 creating bucket, got %d: %s", putBucketRW.Result().StatusCode, putBucketRW.Body.String())
	}

	putObj := httptest.NewRequest(http.MethodPut, "/demo-bucket/greeting.txt", strings.NewReader("hello"))
	putObjRW := httptest.NewRecorder()
	r.ServeHTTP(putObjRW, putObj)
	if putObjRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 putting object, got %d: %s", putObjRW.Result().StatusCode, putObjRW.Body.String())
	}

	getObj := httptest.NewRequest(http.MethodGet, "/demo-bucket/greeting.txt", nil)
	getObjRW := httptest.NewRecorder()
	r.ServeHTTP(getObjRW, getObj)
	if getObjRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 getting object, got %d: %s", getObjRW.Result().StatusCode, getObjRW.Body.String())
	}
	if getObjRW.Body.String() != "hello" {
		t.Fatalf("expected object body hello, got %s", getObjRW.Body.String())
	}

	listBuckets := httptest.NewRequest(http.MethodGet, "/", nil)
	listRW := httptest.NewRecorder()
	r.ServeHTTP(listRW, listBuckets)
	if listRW.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 listing buckets, got %d: %s", listRW.Result().StatusCode, listRW.Body.String())
	}
	if !strings.Contains(listRW.Body.String(), "demo-bucket") {
		t.Fatalf("expected demo-bucket in ListAllMyBuckets response, got %s", listRW.Body.String())
	}
}
