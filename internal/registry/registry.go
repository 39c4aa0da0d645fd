// Package registry implements the function registry (component C):
// the code + config store for functions, code-bundle hashing, and
// version tracking on code update.
//
// A sync.RWMutex-guarded map with Create/Get/List/Delete semantics,
// one owner per registry instance.
package registry

import (
	"crypto/sha256"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/conorvenus/microstack/internal/apierror"
)

// SupportedRuntime is the single runtime tag this emulator accepts.
const SupportedRuntime = "nodejs18.x"

// Record is a function's code + config.
type Record struct {
	Name           string
	Runtime        string
	Role           string
	Handler        string
	TimeoutSeconds int
	Environment    map[string]string
	CodeBundle     []byte
	CodeDigest     string
	Version        int
	LastModified   time.Time
}

// CreateInput is the full set of fields accepted on create.
type CreateInput struct {
	Name           string
	Runtime        string
	Role           string
	Handler        string
	TimeoutSeconds int // 0 means "use default"
	Environment    map[string]string
	CodeBundle     []byte
}

// ConfigPatch is the set of fields updateConfig may change. A nil
// pointer/map means "leave unchanged".
type ConfigPatch struct {
	Runtime        *string
	Role           *string
	Handler        *string
	TimeoutSeconds *int
	Environment    map[string]string
}

// Registry is the single owner of all function records.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]*Record
}

// New creates an empty function registry.
func New() *Registry {
	return &Registry{functions: make(map[string]*Record)}
}

// Create stores a new function record. Fails with invalid-argument for
// an unsupported runtime or empty code bundle, already-exists if the
// name is taken.
func (r *Registry) Create(in CreateInput) (*Record, error) {
	if in.Runtime != SupportedRuntime {
		return nil, apierror.New(apierror.InvalidArgument, "unsupported runtime %q", in.Runtime)
	}
	if len(in.CodeBundle) == 0 {
		return nil, apierror.New(apierror.InvalidArgument, "code bundle must not be empty")
	}
	if in.Name == "" {
		return nil, apierror.New(apierror.InvalidArgument, "function name must not be empty")
	}

	timeout := in.TimeoutSeconds
	if timeout <= 0 {
		timeout = 3
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.functions[in.Name]; ok {
		return nil, apierror.New(apierror.AlreadyExists, "function %q already exists", in.Name)
	}

	digest := digestOf(in.CodeBundle)
	rec := &Record{
		Name:           in.Name,
		Runtime:        in.Runtime,
		Role:           in.Role,
		Handler:        in.Handler,
		TimeoutSeconds: timeout,
		Environment:    copyEnv(in.Environment),
		CodeBundle:     in.CodeBundle,
		CodeDigest:     digest,
		Version:        1,
		LastModified:   time.Now().UTC(),
	}
	r.functions[in.Name] = rec
	return rec, nil
}

// Get returns a function record by name.
func (r *Registry) Get(name string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.functions[name]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "function %q does not exist", name)
	}
	return rec, nil
}

// List returns all function records sorted by name.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.functions))
	for _, rec := range r.functions {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a function record.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.functions[name]; !ok {
		return apierror.New(apierror.NotFound, "function %q does not exist", name)
	}
	delete(r.functions, name)
	return nil
}

// UpdateConfig applies patch fields present in patch, leaving everything
// else untouched. Version is never changed by a config update.
func (r *Registry) UpdateConfig(name string, patch ConfigPatch) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.functions[name]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "function %q does not exist", name)
	}

	if patch.Runtime != nil {
		if *patch.Runtime != SupportedRuntime {
			return nil, apierror.New(apierror.InvalidArgument, "unsupported runtime %q", *patch.Runtime)
		}
		rec.Runtime = *patch.Runtime
	}
	if patch.Role != nil {
		rec.Role = *patch.Role
	}
	if patch.Handler != nil {
		rec.Handler = *patch.Handler
	}
	if patch.TimeoutSeconds != nil {
		rec.TimeoutSeconds = *patch.TimeoutSeconds
	}
	if patch.Environment != nil {
		rec.Environment = copyEnv(patch.Environment)
	}
	rec.LastModified = time.Now().UTC()
	return rec, nil
}

// UpdateCode replaces a function's code bundle, bumping Version by 1.
func (r *Registry) UpdateCode(name string, bundle []byte) (*Record, error) {
	if len(bundle) == 0 {
		return nil, apierror.New(apierror.InvalidArgument, "code bundle must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.functions[name]
	if !ok {
		return nil, apierror.New(apierror.NotFound, "function %q does not exist", name)
	}

	rec.CodeBundle = bundle
	rec.CodeDigest = digestOf(bundle)
	rec.Version++
	rec.LastModified = time.Now().UTC()
	return rec, nil
}

func digestOf(bundle []byte) string {
	sum := sha256.Sum256(bundle)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
