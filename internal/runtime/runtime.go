// Package runtime implements the function runtime (component D): the
// per-invocation sandbox that extracts a code bundle, loads its
// handler, binds environment, enforces a timeout, classifies faults,
// and emits structured log events.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorvenus/microstack/internal/apierror"
	"github.com/conorvenus/microstack/internal/registry"
)

// Sink receives the three log events an invocation emits. The default
// wiring (see NewDefaultSink) sends them to the log ledger group
// /aws/lambda/<name>, stream YYYY/MM/DD/[$LATEST]<uuid>.
type Sink func(group, stream, message string, timestamp time.Time)

// InvokeResult is always returned on a successful call to Invoke —
// handler faults and timeouts are captured here, never as a Go error.
type InvokeResult struct {
	Payload       []byte
	FunctionError string // "Unhandled" on fault/timeout, empty on success
}

// Runtime resolves functions through a registry and executes
// invocations against their code bundle.
type Runtime struct {
	registry   *registry.Registry
	runtimeDir string
	sink       Sink
	notify     func(functionName, functionError string)
}

// New creates a Runtime. runtimeDir is the process-configured scratch
// root (MICROSTACK_DATA_DIR/runtime); sink receives every log event an
// invocation produces.
func New(reg *registry.Registry, runtimeDir string, sink Sink) *Runtime {
	return &Runtime{registry: reg, runtimeDir: runtimeDir, sink: sink}
}

// SetNotifier registers a callback invoked after every completed
// invocation with the function name and its functionError (empty on
// success). A nil notifier (the default) disables the callback.
func (rt *Runtime) SetNotifier(notify func(functionName, functionError string)) {
	rt.notify = notify
}

// NewDefaultSink returns a Sink that appends to group
// /aws/lambda/<name>, stream YYYY/MM/DD/[$LATEST]<requestID>, via
// appendEvent.
func NewDefaultSink(appendEvent func(group, stream, message string, timestamp time.Time)) Sink {
	return Sink(appendEvent)
}

// errorPayload is the JSON shape of a failed invocation's payload.
type errorPayload struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

// Invoke runs one invocation of function name with payloadBytes as its
// event. An empty payload is treated as JSON null. The returned error
// is non-nil only for failures before the handler ever runs — bad
// handler config, an unreadable bundle, malformed payload; everything
// the handler itself does, and any timeout, is captured in the
// returned *InvokeResult instead.
func (rt *Runtime) Invoke(ctx context.Context, name string, payloadBytes []byte) (*InvokeResult, error) {
	rec, err := rt.registry.Get(name)
	if err != nil {
		return nil, err
	}

	module, export, err := splitHandler(rec.Handler)
	if err != nil {
		return nil, err
	}

	scratchDir, err := newScratchDir(rt.runtimeDir, rec.Name, rec.Version)
	if err != nil {
		return nil, apierror.New(apierror.Internal, "%v", err)
	}
	defer os.RemoveAll(scratchDir)

	if err := extractBundle(rec.CodeBundle, scratchDir); err != nil {
		return nil, apierror.New(apierror.InvalidArgument, "extract code bundle: %v", err)
	}

	handlerPath, ok := locateHandlerFile(scratchDir, module)
	if !ok {
		return nil, apierror.New(apierror.InvalidArgument, "handler file for module %q not found", module)
	}

	fn, body, ok, err := loadHandler(handlerPath)
	if err != nil {
		return nil, apierror.New(apierror.Internal, "%v", err)
	}
	if !ok {
		return nil, apierror.New(apierror.InvalidArgument, "handler export %q is not callable", export)
	}

	event, err := parseEvent(payloadBytes)
	if err != nil {
		return nil, apierror.New(apierror.InvalidArgument, "payload is not valid JSON: %v", err)
	}

	requestID := uuid.NewString()
	start := time.Now().UTC()

	group := fmt.Sprintf("/aws/lambda/%s", rec.Name)
	stream := fmt.Sprintf("%s/[$LATEST]%s", start.Format("2006/01/02"), requestID)

	rt.emit(group, stream, fmt.Sprintf("START RequestId: %s", requestID), start)

	result := rt.run(ctx, fn, event, body, rec, requestID)

	var resultLine string
	if result.FunctionError != "" {
		resultLine = fmt.Sprintf("ERROR %s", string(result.Payload))
	} else {
		resultLine = fmt.Sprintf("RESULT %s", string(result.Payload))
	}
	rt.emit(group, stream, resultLine, start.Add(time.Millisecond))
	rt.emit(group, stream, fmt.Sprintf("END RequestId: %s", requestID), start.Add(2*time.Millisecond))

	if rt.notify != nil {
		rt.notify(rec.Name, result.FunctionError)
	}
	return result, nil
}

// run installs the function's environment, races the handler against
// its configured timeout, and restores the environment before
// returning.
func (rt *Runtime) run(ctx context.Context, fn HandlerFunc, event json.RawMessage, body []byte, rec *registry.Record, requestID string) *InvokeResult {
	unlockEnv := installEnv(rec.Environment)
	defer unlockEnv()

	timeout := time.Duration(rec.TimeoutSeconds) * time.Second
	invokeCtx, cancel := context.WithTimeout(context.WithValue(ctx, requestIDKey{}, requestID), timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, err := fn(invokeCtx, event, body)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return faultResult(o.err)
		}
		return successResult(o.value)
	case <-invokeCtx.Done():
		return timeoutResult(float64(rec.TimeoutSeconds))
	}
}

type requestIDKey struct{}

// RequestIDFromContext returns the request id a Runtime invocation
// bound to ctx, if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey{}).(string)
	return v, ok
}

func successResult(value any) *InvokeResult {
	payload, err := json.Marshal(value)
	if err != nil {
		return faultResult(err)
	}
	return &InvokeResult{Payload: payload}
}

func faultResult(err error) *InvokeResult {
	errType, msg := classifyFault(err)
	payload, _ := json.Marshal(errorPayload{ErrorType: errType, ErrorMessage: msg})
	return &InvokeResult{Payload: payload, FunctionError: "Unhandled"}
}

func timeoutResult(timeoutSeconds float64) *InvokeResult {
	payload, _ := json.Marshal(errorPayload{
		ErrorType:    "TimeoutError",
		ErrorMessage: fmt.Sprintf("Task timed out after %.2f seconds", timeoutSeconds),
	})
	return &InvokeResult{Payload: payload, FunctionError: "Unhandled"}
}

func classifyFault(err error) (errType, message string) {
	if he, ok := err.(*HandlerError); ok {
		t := he.Type
		if t == "" {
			t = "Error"
		}
		m := he.Message
		if m == "" {
			m = "Unknown error"
		}
		return t, m
	}
	m := err.Error()
	if m == "" {
		m = "Unknown error"
	}
	return "Error", m
}

// SplitHandler splits a handler string of the form "module.export" into
// its two halves, failing if either half is empty.
func SplitHandler(handler string) (module, export string, err error) {
	return splitHandler(handler)
}

func splitHandler(handler string) (module, export string, err error) {
	idx := strings.Index(handler, ".")
	if idx < 0 {
		return "", "", apierror.New(apierror.InvalidArgument, "malformed handler %q", handler)
	}
	module, export = handler[:idx], handler[idx+1:]
	if module == "" || export == "" {
		return "", "", apierror.New(apierror.InvalidArgument, "malformed handler %q", handler)
	}
	return module, export, nil
}

// parseEvent treats an empty payload as JSON null, otherwise validates
// payloadBytes is well-formed UTF-8 JSON.
func parseEvent(payloadBytes []byte) (json.RawMessage, error) {
	if len(payloadBytes) == 0 {
		return json.RawMessage("null"), nil
	}
	var v any
	if err := json.Unmarshal(payloadBytes, &v); err != nil {
		return nil, err
	}
	return json.RawMessage(payloadBytes), nil
}

func (rt *Runtime) emit(group, stream, message string, timestamp time.Time) {
	if rt.sink != nil {
		rt.sink(group, stream, message, timestamp)
	}
}
