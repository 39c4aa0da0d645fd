package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/conorvenus/microstack/internal/ledger"
	"github.com/conorvenus/microstack/internal/objectstore"
	"github.com/conorvenus/microstack/internal/registry"
	"github.com/conorvenus/microstack/internal/runtime"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *registry.Registry, *ledger.Ledger, *objectstore.Store) {
	t.Helper()
	reg := registry.New()
	led := ledger.New()
	store := objectstore.New()
	o := New(
		&LambdaFunctionAdapter{Registry: reg},
		&LogGroupResourceAdapter{Ledger: led},
		&BucketResourceAdapter{Store: store},
	)
	return o, reg, led, store
}

const templateWithDependency = `{
  "Resources": {
    "MyLogGroup": {
      "Type": "AWS::Logs::LogGroup",
      "Properties": { "LogGroupName": "/aws/lambda/g" }
    },
    "MyFunction": {
      "Type": "AWS::Lambda::Function",
      "DependsOn": "MyLogGroup",
      "Properties": {
        "FunctionName": "g",
        "Runtime": "nodejs18.x",
        "Role": "arn:aws:iam::000000000000:role/exec",
        "Handler": "index.handler",
        "Code": { "ZipFile": "// handler:echo\n{\"ok\":true}" }
      }
    }
  }
}`

func TestCreateStackWithDependencyReachesComplete(t *testing.T) {
	o, reg, led, _ := newTestOrchestrator(t)

	stack, err := o.CreateStack("mystack", templateWithDependency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stack.Status != StatusCreateComplete {
		t.Fatalf("expected CREATE_COMPLETE, got %s (%s)", stack.Status, stack.StatusReason)
	}
	if len(stack.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(stack.Resources))
	}
	for _, r := range stack.Resources {
		if r.Status != StatusCreateComplete {
			t.Fatalf("resource %s not CREATE_COMPLETE: %s (%s)", r.LogicalID, r.Status, r.StatusReason)
		}
	}

	if _, err := led.DescribeStreams("/aws/lambda/g", ""); err != nil {
		t.Fatalf("expected log group to exist: %v", err)
	}

	rt := runtime.New(reg, t.TempDir(), nil)
	result, err := rt.Invoke(context.Background(), "g", nil)
	if err != nil {
		t.Fatalf("unexpected error invoking stack-created function: %v", err)
	}
	if result.FunctionError != "" {
		t.Fatalf("unexpected functionError: %s", result.FunctionError)
	}
}

func TestDeleteStackToleratesManuallyDeletedResource(t *testing.T) {
	o, reg, _, _ := newTestOrchestrator(t)

	const template = `{
  "Resources": {
    "MyFunction": {
      "Type": "AWS::Lambda::Function",
      "Properties": {
        "FunctionName": "h",
        "Runtime": "nodejs18.x",
        "Role": "arn:aws:iam::000000000000:role/exec",
        "Handler": "index.handler",
        "Code": { "ZipFile": "// handler:echo\n{}" }
      }
    }
  }
}`
	stack, err := o.CreateStack("gone-early", template)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stack.Status != StatusCreateComplete {
		t.Fatalf("expected CREATE_COMPLETE, got %s", stack.Status)
	}

	if err := reg.Delete("h"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deleted, err := o.DeleteStack("gone-early")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted.Status != StatusDeleteComplete {
		t.Fatalf("expected DELETE_COMPLETE, got %s (%s)", deleted.Status, deleted.StatusReason)
	}
}

func TestCreateStackUnsupportedResourceTypeFails(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	const template = `{
  "Resources": {
    "Mystery": {
      "Type": "AWS::DynamoDB::Table",
      "Properties": {}
    }
  }
}`
	stack, err := o.CreateStack("odd", template)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stack.Status != StatusCreateFailed {
		t.Fatalf("expected CREATE_FAILED, got %s", stack.Status)
	}
	if !strings.Contains(stack.StatusReason, "Unsupported resource type") {
		t.Fatalf("expected reason to mention unsupported resource type, got %q", stack.StatusReason)
	}
}

func TestUpdateStackRollsBackOnFailure(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	const goodTemplate = `{
  "Resources": {
    "MyBucket": {
      "Type": "AWS::S3::Bucket",
      "Properties": { "BucketName": "keep-me" }
    }
  }
}`
	stack, err := o.CreateStack("rollback-test", goodTemplate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stack.Status != StatusCreateComplete {
		t.Fatalf("expected CREATE_COMPLETE, got %s", stack.Status)
	}

	const badTemplate = `{
  "Resources": {
    "Broken": {
      "Type": "AWS::DynamoDB::Table",
      "Properties": {}
    }
  }
}`
	updated, err := o.UpdateStack("rollback-test", badTemplate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusUpdateRollbackComplete {
		t.Fatalf("expected UPDATE_ROLLBACK_COMPLETE, got %s (%s)", updated.Status, updated.StatusReason)
	}
	if updated.TemplateBody != goodTemplate {
		t.Fatalf("expected template restored to previous version after rollback")
	}
	if len(updated.Resources) != 1 || updated.Resources[0].Type != "AWS::S3::Bucket" {
		t.Fatalf("expected original bucket resource restored, got %+v", updated.Resources)
	}
}

func TestCreateStackDuplicateNameFails(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	if _, err := o.CreateStack("dupe", templateWithDependency); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.CreateStack("dupe", templateWithDependency); err == nil {
		t.Fatalf("expected error creating duplicate stack")
	}
}

func TestTopologicalOrderRejectsCycle(t *testing.T) {
	entries := []resourceEntry{
		{LogicalID: "A", Template: resourceTemplate{Type: "AWS::S3::Bucket", DependsOn: []string{"B"}}},
		{LogicalID: "B", Template: resourceTemplate{Type: "AWS::S3::Bucket", DependsOn: []string{"A"}}},
	}
	if _, err := topologicalOrder(entries); err == nil {
		t.Fatalf("expected cycle to be rejected")
	}
}

func TestTopologicalOrderRespectsFirstAppearanceWhenIndependent(t *testing.T) {
	entries := []resourceEntry{
		{LogicalID: "First", Template: resourceTemplate{Type: "AWS::S3::Bucket"}},
		{LogicalID: "Second", Template: resourceTemplate{Type: "AWS::S3::Bucket"}},
	}
	order, err := topologicalOrder(entries)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "First" || order[1] != "Second" {
		t.Fatalf("expected [First Second], got %v", order)
	}
}

func TestResolveRefAndGetAtt(t *testing.T) {
	created := map[string]*Resource{
		"Dep": {LogicalID: "Dep", PhysicalID: "physical-id", ARN: "arn:aws:s3:::physical-id"},
	}
	props := map[string]any{
		"Target": map[string]any{"Ref": "Dep"},
		"Arn":    map[string]any{"Fn::GetAtt": "Dep.Arn"},
	}
	resolved, err := resolveProps(props, created)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved["Target"] != "physical-id" {
		t.Fatalf("expected Ref to resolve to physical id, got %v", resolved["Target"])
	}
	if resolved["Arn"] != "arn:aws:s3:::physical-id" {
		t.Fatalf("expected Fn::GetAtt to resolve to arn, got %v", resolved["Arn"])
	}
}

func TestResolveRefToUncreatedResourceFails(t *testing.T) {
	props := map[string]any{"Target": map[string]any{"Ref": "Nope"}}
	if _, err := resolveProps(props, map[string]*Resource{}); err == nil {
		t.Fatalf("expected error resolving Ref to an uncreated resource")
	}
}

func TestParseTemplateRejectsUnknownProperty(t *testing.T) {
	const template = `{
  "Resources": {
    "B": { "Type": "AWS::S3::Bucket", "Properties": { "BucketName": "x", "Extra": "nope" } }
  }
}`
	if _, err := parseTemplate([]byte(template)); err == nil {
		t.Fatalf("expected unknown property to be rejected")
	}
}

func TestParseTemplateAcceptsYAML(t *testing.T) {
	const template = `
Resources:
  B:
    Type: AWS::S3::Bucket
    Properties:
      BucketName: from-yaml
`
	entries, err := parseTemplate([]byte(template))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].LogicalID != "B" {
		t.Fatalf("expected one resource B, got %+v", entries)
	}
}
