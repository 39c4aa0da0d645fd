package orchestrator

import (
	"archive/zip"
	"bytes"
	"fmt"

	"github.com/conorvenus/microstack/internal/apierror"
	"github.com/conorvenus/microstack/internal/ledger"
	"github.com/conorvenus/microstack/internal/objectstore"
	"github.com/conorvenus/microstack/internal/registry"
	"github.com/conorvenus/microstack/internal/runtime"
)

// LambdaFunctionAdapter wraps a function registry so the orchestrator
// can create and delete AWS::Lambda::Function resources without
// depending on the registry's construction details.
type LambdaFunctionAdapter struct {
	Registry *registry.Registry
}

// Create turns a Lambda resource's properties into a registry entry.
// Code.ZipFile is inline source text rather than a real archive, so it
// is wrapped in a single-file ZIP bundle under the handler's module
// name — the same extraction path a real code upload takes.
func (a *LambdaFunctionAdapter) Create(logicalID string, props map[string]any) (string, string, error) {
	name, _ := props["FunctionName"].(string)
	if name == "" {
		name = logicalID
	}
	runtimeTag, _ := props["Runtime"].(string)
	role, _ := props["Role"].(string)
	handler, _ := props["Handler"].(string)

	module, _, err := runtime.SplitHandler(handler)
	if err != nil {
		return "", "", err
	}

	code, _ := props["Code"].(map[string]any)
	zipFile, _ := code["ZipFile"].(string)
	bundle, err := buildInlineBundle(module, zipFile)
	if err != nil {
		return "", "", apierror.New(apierror.InvalidArgument, "Code.ZipFile: %v", err)
	}

	timeoutSeconds := 0
	if t, ok := props["Timeout"]; ok {
		timeoutSeconds = toInt(t)
	}

	env := map[string]string{}
	if envProp, ok := props["Environment"].(map[string]any); ok {
		if vars, ok := envProp["Variables"].(map[string]any); ok {
			for k, v := range vars {
				if s, ok := v.(string); ok {
					env[k] = s
				}
			}
		}
	}

	rec, err := a.Registry.Create(registry.CreateInput{
		Name:           name,
		Runtime:        runtimeTag,
		Role:           role,
		Handler:        handler,
		TimeoutSeconds: timeoutSeconds,
		Environment:    env,
		CodeBundle:     bundle,
	})
	if err != nil {
		return "", "", err
	}
	return rec.Name, lambdaARN(rec.Name), nil
}

// Delete removes a function from the registry.
func (a *LambdaFunctionAdapter) Delete(physicalID string) error {
	return a.Registry.Delete(physicalID)
}

func lambdaARN(name string) string {
	return fmt.Sprintf("arn:aws:lambda:us-east-1:000000000000:function:%s", name)
}

// LogGroupResourceAdapter wraps a log ledger so the orchestrator can
// create and delete AWS::Logs::LogGroup resources.
type LogGroupResourceAdapter struct {
	Ledger *ledger.Ledger
}

func (a *LogGroupResourceAdapter) Create(logicalID string, props map[string]any) (string, string, error) {
	name, _ := props["LogGroupName"].(string)
	if name == "" {
		name = logicalID
	}
	var retention *int
	if r, ok := props["RetentionInDays"]; ok {
		v := toInt(r)
		retention = &v
	}
	if err := a.Ledger.CreateGroup(name, retention); err != nil {
		return "", "", err
	}
	return name, logGroupARN(name), nil
}

func (a *LogGroupResourceAdapter) Delete(physicalID string) error {
	return a.Ledger.DeleteGroup(physicalID)
}

func logGroupARN(name string) string {
	return fmt.Sprintf("arn:aws:logs:us-east-1:000000000000:log-group:%s:*", name)
}

// BucketResourceAdapter wraps an object store so the orchestrator can
// create and delete AWS::S3::Bucket resources.
type BucketResourceAdapter struct {
	Store *objectstore.Store
}

func (a *BucketResourceAdapter) Create(logicalID string, props map[string]any) (string, string, error) {
	name, _ := props["BucketName"].(string)
	if name == "" {
		name = logicalID
	}
	b, err := a.Store.CreateBucket(name)
	if err != nil {
		return "", "", err
	}
	return b.Name, bucketARN(b.Name), nil
}

func (a *BucketResourceAdapter) Delete(physicalID string) error {
	return a.Store.DeleteBucket(physicalID)
}

func bucketARN(name string) string {
	return fmt.Sprintf("arn:aws:s3:::%s", name)
}

// buildInlineBundle wraps content in a single-entry ZIP archive named
// module plus the runtime's preferred extension, so it extracts and
// loads exactly like an uploaded code package.
func buildInlineBundle(module, content string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(module + ".mjs")
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(content)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}
