// Package orchestrator implements the stack orchestrator (component E):
// template-driven creation, update-with-rollback, and deletion of a
// small set of resource types, with a never-truncated event journal.
package orchestrator

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conorvenus/microstack/internal/apierror"
)

var stackNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,127}$`)

// ResourceStatus is a stack or resource lifecycle state. Resource
// statuses mirror the verb prefix of the operation that produced them.
type ResourceStatus string

const (
	StatusCreateInProgress         ResourceStatus = "CREATE_IN_PROGRESS"
	StatusCreateComplete           ResourceStatus = "CREATE_COMPLETE"
	StatusCreateFailed             ResourceStatus = "CREATE_FAILED"
	StatusUpdateInProgress         ResourceStatus = "UPDATE_IN_PROGRESS"
	StatusUpdateComplete           ResourceStatus = "UPDATE_COMPLETE"
	StatusUpdateFailed             ResourceStatus = "UPDATE_FAILED"
	StatusUpdateRollbackInProgress ResourceStatus = "UPDATE_ROLLBACK_IN_PROGRESS"
	StatusUpdateRollbackComplete   ResourceStatus = "UPDATE_ROLLBACK_COMPLETE"
	StatusUpdateRollbackFailed     ResourceStatus = "UPDATE_ROLLBACK_FAILED"
	StatusDeleteInProgress         ResourceStatus = "DELETE_IN_PROGRESS"
	StatusDeleteComplete           ResourceStatus = "DELETE_COMPLETE"
	StatusDeleteFailed             ResourceStatus = "DELETE_FAILED"
)

const stackResourceType = "AWS::CloudFormation::Stack"

// Resource is one resource's current standing within a stack.
type Resource struct {
	LogicalID    string
	PhysicalID   string
	ARN          string
	Type         string
	Status       ResourceStatus
	StatusReason string
	Timestamp    time.Time
}

// Event is one entry in a stack's append-only event journal.
type Event struct {
	EventID      string
	Timestamp    time.Time
	LogicalID    string
	ResourceType string
	Status       ResourceStatus
	StatusReason string
}

// Stack is a named collection of resources created from one template.
type Stack struct {
	mu sync.Mutex

	StackID       string
	StackName     string
	TemplateBody  string
	CreationTime  time.Time
	Status        ResourceStatus
	StatusReason  string
	Resources     []*Resource
	CreationOrder []string
	Events        []Event // most recent first
}

// snapshot returns a shallow copy of stack safe to hand to a caller
// outside the orchestrator's lock.
func (s *Stack) snapshot() *Stack {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s
	cp.Resources = append([]*Resource(nil), s.Resources...)
	cp.CreationOrder = append([]string(nil), s.CreationOrder...)
	cp.Events = append([]Event(nil), s.Events...)
	return &cp
}

// resourcesAndOrder reads the stack's current resource list and
// creation order under lock.
func (s *Stack) resourcesAndOrder() ([]*Resource, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Resource(nil), s.Resources...), append([]string(nil), s.CreationOrder...)
}

// phase names the three resource-status values one creation or
// deletion pass moves through.
type phase struct {
	inProgress, complete, failed ResourceStatus
}

var (
	createPhase   = phase{StatusCreateInProgress, StatusCreateComplete, StatusCreateFailed}
	updatePhase   = phase{StatusUpdateInProgress, StatusUpdateComplete, StatusUpdateFailed}
	rollbackPhase = phase{StatusUpdateRollbackInProgress, StatusUpdateRollbackComplete, StatusUpdateRollbackFailed}
	deletePhase   = phase{StatusDeleteInProgress, StatusDeleteComplete, StatusDeleteFailed}
)

// LambdaAdapter creates and deletes the concrete resource backing
// AWS::Lambda::Function.
type LambdaAdapter interface {
	Create(logicalID string, props map[string]any) (physicalID, arn string, err error)
	Delete(physicalID string) error
}

// LogGroupAdapter creates and deletes the concrete resource backing
// AWS::Logs::LogGroup.
type LogGroupAdapter interface {
	Create(logicalID string, props map[string]any) (physicalID, arn string, err error)
	Delete(physicalID string) error
}

// BucketAdapter creates and deletes the concrete resource backing
// AWS::S3::Bucket.
type BucketAdapter interface {
	Create(logicalID string, props map[string]any) (physicalID, arn string, err error)
	Delete(physicalID string) error
}

// Orchestrator owns every stack and serializes mutations per stack
// name via a keyed mutex, the same per-key-lock-without-global-lock
// shape used elsewhere in this module for single-writer resources.
type Orchestrator struct {
	mu     sync.RWMutex
	stacks map[string]*Stack
	locks  *KeyedMutex

	lambda   LambdaAdapter
	logGroup LogGroupAdapter
	bucket   BucketAdapter

	notify func(stackName, status string)
}

// New creates an Orchestrator wired to concrete adapters.
func New(lambda LambdaAdapter, logGroup LogGroupAdapter, bucket BucketAdapter) *Orchestrator {
	return &Orchestrator{
		stacks:   make(map[string]*Stack),
		locks:    NewKeyedMutex(),
		lambda:   lambda,
		logGroup: logGroup,
		bucket:   bucket,
	}
}

// SetNotifier registers a callback invoked on every stack-level status
// transition. A nil notifier (the default) disables the callback.
func (o *Orchestrator) SetNotifier(notify func(stackName, status string)) {
	o.notify = notify
}

// CreateStack validates name and template, then creates every resource
// in topological order. A resource failure fails the stack with no
// rollback.
func (o *Orchestrator) CreateStack(name, templateBody string) (*Stack, error) {
	if !stackNamePattern.MatchString(name) {
		return nil, apierror.New(apierror.InvalidArgument, "invalid stack name %q", name)
	}

	unlock := o.locks.Lock(name)
	defer unlock()

	o.mu.Lock()
	if _, exists := o.stacks[name]; exists {
		o.mu.Unlock()
		return nil, apierror.New(apierror.AlreadyExists, "stack %q already exists", name)
	}
	stack := &Stack{
		StackID:      newStackID(name),
		StackName:    name,
		TemplateBody: templateBody,
		CreationTime: time.Now().UTC(),
		Status:       StatusCreateInProgress,
	}
	o.stacks[name] = stack
	o.mu.Unlock()

	o.setStackStatus(stack, StatusCreateInProgress, "")

	entries, err := parseTemplate([]byte(templateBody))
	if err != nil {
		o.setStackStatus(stack, StatusCreateFailed, err.Error())
		return stack.snapshot(), nil
	}
	order, err := topologicalOrder(entries)
	if err != nil {
		o.setStackStatus(stack, StatusCreateFailed, err.Error())
		return stack.snapshot(), nil
	}

	if ok, reason := o.runCreatePass(stack, order, indexByID(entries), createPhase); !ok {
		o.setStackStatus(stack, StatusCreateFailed, reason)
		return stack.snapshot(), nil
	}
	o.setStackStatus(stack, StatusCreateComplete, "")
	return stack.snapshot(), nil
}

// UpdateStack deletes every current resource (tolerating not-found),
// then creates the new template's resources. A failure in either
// phase rolls the stack back to the previous template.
func (o *Orchestrator) UpdateStack(name, newTemplateBody string) (*Stack, error) {
	unlock := o.locks.Lock(name)
	defer unlock()

	o.mu.RLock()
	stack, ok := o.stacks[name]
	o.mu.RUnlock()
	if !ok {
		return nil, apierror.New(apierror.NotFound, "stack %q not found", name)
	}

	newEntries, err := parseTemplate([]byte(newTemplateBody))
	if err != nil {
		return nil, apierror.New(apierror.InvalidArgument, "invalid template: %v", err)
	}
	newOrder, err := topologicalOrder(newEntries)
	if err != nil {
		return nil, err
	}
	newByID := indexByID(newEntries)

	previousTemplateBody := stack.TemplateBody
	previousOrder, previousByID := previousTemplateOrder(previousTemplateBody)

	o.setStackStatus(stack, StatusUpdateInProgress, "")

	currentResources, currentOrder := stack.resourcesAndOrder()
	deleteOrder := reverseStrings(currentOrder)
	if ok, reason := o.runDeletePass(stack, deleteOrder, resourceIndex(currentResources), updatePhase); !ok {
		o.rollbackUpdate(stack, previousTemplateBody, previousOrder, previousByID, reason)
		return stack.snapshot(), nil
	}

	if ok, reason := o.runCreatePass(stack, newOrder, newByID, updatePhase); !ok {
		o.rollbackUpdate(stack, previousTemplateBody, previousOrder, previousByID, reason)
		return stack.snapshot(), nil
	}

	stack.mu.Lock()
	stack.TemplateBody = newTemplateBody
	stack.mu.Unlock()
	o.setStackStatus(stack, StatusUpdateComplete, "")
	return stack.snapshot(), nil
}

func (o *Orchestrator) rollbackUpdate(stack *Stack, previousTemplateBody string, previousOrder []string, previousByID map[string]resourceTemplate, failReason string) {
	o.setStackStatus(stack, StatusUpdateFailed, failReason)
	o.setStackStatus(stack, StatusUpdateRollbackInProgress, "")

	if ok, reason := o.runCreatePass(stack, previousOrder, previousByID, rollbackPhase); !ok {
		o.setStackStatus(stack, StatusUpdateRollbackFailed, reason)
		return
	}

	stack.mu.Lock()
	stack.TemplateBody = previousTemplateBody
	stack.mu.Unlock()
	o.setStackStatus(stack, StatusUpdateRollbackComplete, "")
}

// DeleteStack walks creationOrder in reverse, tolerating resources
// already gone. The first genuine failure stops the walk.
func (o *Orchestrator) DeleteStack(name string) (*Stack, error) {
	unlock := o.locks.Lock(name)
	defer unlock()

	o.mu.RLock()
	stack, ok := o.stacks[name]
	o.mu.RUnlock()
	if !ok {
		return nil, apierror.New(apierror.NotFound, "stack %q not found", name)
	}

	o.setStackStatus(stack, StatusDeleteInProgress, "")

	resources, creationOrder := stack.resourcesAndOrder()
	order := reverseStrings(creationOrder)
	if ok, reason := o.runDeletePass(stack, order, resourceIndex(resources), deletePhase); !ok {
		o.setStackStatus(stack, StatusDeleteFailed, reason)
		return stack.snapshot(), nil
	}
	o.setStackStatus(stack, StatusDeleteComplete, "")
	return stack.snapshot(), nil
}

// DescribeStack returns a stack by name.
func (o *Orchestrator) DescribeStack(name string) (*Stack, error) {
	o.mu.RLock()
	stack, ok := o.stacks[name]
	o.mu.RUnlock()
	if !ok {
		return nil, apierror.New(apierror.NotFound, "stack %q not found", name)
	}
	return stack.snapshot(), nil
}

// ListStacks returns every stack, sorted by name.
func (o *Orchestrator) ListStacks() []*Stack {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*Stack, 0, len(o.stacks))
	for _, s := range o.stacks {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StackName < out[j].StackName })
	return out
}

// runCreatePass creates every resource in order, resolving intrinsics
// against resources already created earlier in the same pass. It
// replaces stack.Resources/CreationOrder with the outcome of this pass.
func (o *Orchestrator) runCreatePass(stack *Stack, order []string, byID map[string]resourceTemplate, ph phase) (ok bool, reason string) {
	stack.mu.Lock()
	stack.Resources = nil
	stack.CreationOrder = nil
	stack.mu.Unlock()

	index := map[string]*Resource{}
	for _, id := range order {
		tmpl := byID[id]
		o.appendResourceEvent(stack, id, tmpl.Type, ph.inProgress, "")

		resolved, err := resolveProps(tmpl.Properties, index)
		var physicalID, arn string
		if err == nil {
			physicalID, arn, err = o.createResource(tmpl.Type, id, resolved)
		}
		if err != nil {
			stack.mu.Lock()
			stack.Resources = append(stack.Resources, &Resource{
				LogicalID: id, Type: tmpl.Type, Status: ph.failed,
				StatusReason: err.Error(), Timestamp: time.Now().UTC(),
			})
			stack.mu.Unlock()
			o.appendResourceEvent(stack, id, tmpl.Type, ph.failed, err.Error())
			return false, err.Error()
		}

		res := &Resource{
			LogicalID: id, PhysicalID: physicalID, ARN: arn, Type: tmpl.Type,
			Status: ph.complete, Timestamp: time.Now().UTC(),
		}
		stack.mu.Lock()
		stack.Resources = append(stack.Resources, res)
		stack.CreationOrder = append(stack.CreationOrder, id)
		stack.mu.Unlock()
		index[id] = res
		o.appendResourceEvent(stack, id, tmpl.Type, ph.complete, "")
	}
	return true, ""
}

// runDeletePass deletes the resources named by order (already in
// reverse-creation order), tolerating a not-found response from the
// adapter as a successful delete.
func (o *Orchestrator) runDeletePass(stack *Stack, order []string, byID map[string]*Resource, ph phase) (ok bool, reason string) {
	for _, id := range order {
		res, exists := byID[id]
		if !exists {
			continue
		}
		o.appendResourceEvent(stack, id, res.Type, ph.inProgress, "")

		err := o.deleteResource(res.Type, res.PhysicalID)
		if err != nil && !isNotFound(err) {
			res.Status = ph.failed
			res.StatusReason = err.Error()
			o.appendResourceEvent(stack, id, res.Type, ph.failed, err.Error())
			return false, err.Error()
		}
		res.Status = ph.complete
		res.StatusReason = ""
		o.appendResourceEvent(stack, id, res.Type, ph.complete, "")
	}
	return true, ""
}

func (o *Orchestrator) createResource(resourceType, logicalID string, props map[string]any) (physicalID, arn string, err error) {
	switch resourceType {
	case "AWS::Lambda::Function":
		return o.lambda.Create(logicalID, props)
	case "AWS::Logs::LogGroup":
		return o.logGroup.Create(logicalID, props)
	case "AWS::S3::Bucket":
		return o.bucket.Create(logicalID, props)
	default:
		return "", "", apierror.New(apierror.InvalidArgument, "Unsupported resource type: %s", resourceType)
	}
}

func (o *Orchestrator) deleteResource(resourceType, physicalID string) error {
	switch resourceType {
	case "AWS::Lambda::Function":
		return o.lambda.Delete(physicalID)
	case "AWS::Logs::LogGroup":
		return o.logGroup.Delete(physicalID)
	case "AWS::S3::Bucket":
		return o.bucket.Delete(physicalID)
	default:
		return nil
	}
}

func (o *Orchestrator) setStackStatus(stack *Stack, status ResourceStatus, reason string) {
	stack.mu.Lock()
	stack.Status = status
	stack.StatusReason = reason
	stack.mu.Unlock()
	o.appendStackEvent(stack, status, reason)
	if o.notify != nil {
		o.notify(stack.StackName, string(status))
	}
}

func (o *Orchestrator) appendStackEvent(stack *Stack, status ResourceStatus, reason string) {
	o.appendEvent(stack, stack.StackName, stackResourceType, status, reason)
}

func (o *Orchestrator) appendResourceEvent(stack *Stack, logicalID, resourceType string, status ResourceStatus, reason string) {
	o.appendEvent(stack, logicalID, resourceType, status, reason)
}

func (o *Orchestrator) appendEvent(stack *Stack, logicalID, resourceType string, status ResourceStatus, reason string) {
	ev := Event{
		EventID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		LogicalID:    logicalID,
		ResourceType: resourceType,
		Status:       status,
		StatusReason: reason,
	}
	stack.mu.Lock()
	stack.Events = append([]Event{ev}, stack.Events...)
	stack.mu.Unlock()
}

func newStackID(name string) string {
	return fmt.Sprintf("arn:aws:cloudformation:us-east-1:000000000000:stack/%s/%s", name, uuid.NewString())
}

func resourceIndex(resources []*Resource) map[string]*Resource {
	out := make(map[string]*Resource, len(resources))
	for _, r := range resources {
		out[r.LogicalID] = r
	}
	return out
}

func reverseStrings(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[len(ss)-1-i] = s
	}
	return out
}

// previousTemplateOrder re-parses a stack's stored template. It
// returns nil order and index when that template does not parse or
// sort, which is the case for a stack whose creation failed on its
// template; a rollback then recreates no resources.
func previousTemplateOrder(templateBody string) ([]string, map[string]resourceTemplate) {
	entries, err := parseTemplate([]byte(templateBody))
	if err != nil {
		return nil, nil
	}
	order, err := topologicalOrder(entries)
	if err != nil {
		return nil, nil
	}
	return order, indexByID(entries)
}

func isNotFound(err error) bool {
	apiErr, ok := apierror.As(err)
	return ok && apiErr.Kind == apierror.NotFound
}
