package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// HandlerFunc is the compile-time stand-in for a loaded Lambda handler
// export. event is the invocation payload; body is the handler source
// file's content following its `// handler:<key>` marker line — this
// is what lets a single registered Go function behave differently
// across code-bundle versions without a real JS engine.
type HandlerFunc func(ctx context.Context, event json.RawMessage, body []byte) (any, error)

// HandlerError is a handler fault carrying an explicit class name,
// mirroring what a thrown JS Error's constructor name would supply.
type HandlerError struct {
	Type    string
	Message string
}

func (e *HandlerError) Error() string { return e.Message }

// directory is the compile-time-registered handler table. A code
// bundle's marker comment selects an entry here instead of the source
// being dynamically imported.
var directory = map[string]HandlerFunc{
	"echo":       echoHandler,
	"echo-event": echoEventHandler,
	"fault":      faultHandler,
	"sleep":      sleepHandler,
}

// echoHandler decodes its marker body as JSON and returns it verbatim,
// ignoring the invocation event. Updating the code bundle's body is
// enough to change this handler's result without touching its
// handler export.
func echoHandler(_ context.Context, _ json.RawMessage, body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("echo handler: malformed fixture body: %w", err)
	}
	return v, nil
}

// echoEventHandler returns the invocation event unchanged.
func echoEventHandler(_ context.Context, event json.RawMessage, _ []byte) (any, error) {
	if len(event) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(event, &v); err != nil {
		return nil, fmt.Errorf("echo-event handler: malformed event: %w", err)
	}
	return v, nil
}

type faultFixture struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// faultHandler always raises a HandlerError described by its marker
// body, for exercising the handler-fault path.
func faultHandler(_ context.Context, _ json.RawMessage, body []byte) (any, error) {
	var f faultFixture
	if len(body) > 0 {
		_ = json.Unmarshal(body, &f)
	}
	return nil, &HandlerError{Type: f.Type, Message: f.Message}
}

type sleepFixture struct {
	SleepMs int `json:"sleepMs"`
}

// sleepHandler sleeps for the duration its marker body specifies, for
// exercising the per-invocation timeout race. It deliberately ignores
// ctx cancellation — like a real handler the runtime can't preempt, it
// keeps running after the timeout fires, and the runtime's own select
// is what must win the race and return first.
func sleepHandler(_ context.Context, _ json.RawMessage, body []byte) (any, error) {
	var f sleepFixture
	if len(body) > 0 {
		_ = json.Unmarshal(body, &f)
	}
	time.Sleep(time.Duration(f.SleepMs) * time.Millisecond)
	return map[string]any{"slept": true}, nil
}
