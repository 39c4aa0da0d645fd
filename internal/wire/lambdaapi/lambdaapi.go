// Package lambdaapi implements the Function REST+JSON dialect mounted
// under /2015-03-31/functions: decode into a typed request, call the
// domain package, encode a typed response or render *apierror.Error.
package lambdaapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/conorvenus/microstack/internal/apierror"
	"github.com/conorvenus/microstack/internal/registry"
	"github.com/conorvenus/microstack/internal/runtime"
	"github.com/conorvenus/microstack/internal/wire"
)

// Routes mounts the Function REST routes onto a fresh sub-router.
func Routes(reg *registry.Registry, rt *runtime.Runtime) http.Handler {
	r := chi.NewRouter()
	r.Post("/", createFunction(reg))
	r.Get("/", listFunctions(reg))
	r.Get("/{Name}", getFunction(reg))
	r.Delete("/{Name}", deleteFunction(reg))
	r.Get("/{Name}/configuration", getFunction(reg))
	r.Put("/{Name}/configuration", updateConfiguration(reg))
	r.Put("/{Name}/code", updateCode(reg))
	r.Post("/{Name}/invocations", invoke(rt))
	return r
}

type environmentDoc struct {
	Variables map[string]string `json:"Variables,omitempty"`
}

type codeDoc struct {
	ZipFile string `json:"ZipFile,omitempty"`
}

// configuration is the JSON shape returned for a function's config,
// matching the field names the Lambda SDKs expect.
type configuration struct {
	FunctionName string         `json:"FunctionName"`
	FunctionArn  string         `json:"FunctionArn"`
	Runtime      string         `json:"Runtime"`
	Role         string         `json:"Role"`
	Handler      string         `json:"Handler"`
	CodeSize     int            `json:"CodeSize"`
	Timeout      int            `json:"Timeout"`
	Environment  environmentDoc `json:"Environment"`
	CodeSha256   string         `json:"CodeSha256"`
	Version      string         `json:"Version"`
	LastModified string         `json:"LastModified"`
}

func toConfiguration(rec *registry.Record) configuration {
	return configuration{
		FunctionName: rec.Name,
		FunctionArn:  functionARN(rec.Name),
		Runtime:      rec.Runtime,
		Role:         rec.Role,
		Handler:      rec.Handler,
		CodeSize:     len(rec.CodeBundle),
		Timeout:      rec.TimeoutSeconds,
		Environment:  environmentDoc{Variables: rec.Environment},
		CodeSha256:   rec.CodeDigest,
		Version:      "$LATEST",
		LastModified: rec.LastModified.Format(time.RFC3339),
	}
}

func functionARN(name string) string {
	return "arn:aws:lambda:us-east-1:000000000000:function:" + name
}

type createFunctionRequest struct {
	FunctionName string         `json:"FunctionName"`
	Runtime      string         `json:"Runtime"`
	Role         string         `json:"Role"`
	Handler      string         `json:"Handler"`
	Timeout      int            `json:"Timeout"`
	Environment  environmentDoc `json:"Environment"`
	Code         codeDoc        `json:"Code"`
}

func createFunction(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createFunctionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "malformed request body: %v", err))
			return
		}

		bundle, err := base64.StdEncoding.DecodeString(req.Code.ZipFile)
		if err != nil {
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "Code.ZipFile: %v", err))
			return
		}

		rec, err := reg.Create(registry.CreateInput{
			Name:           req.FunctionName,
			Runtime:        req.Runtime,
			Role:           req.Role,
			Handler:        req.Handler,
			TimeoutSeconds: req.Timeout,
			Environment:    req.Environment.Variables,
			CodeBundle:     bundle,
		})
		if err != nil {
			wire.WriteJSONError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toConfiguration(rec))
	}
}

func listFunctions(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs := reg.List()
		out := make([]configuration, 0, len(recs))
		for _, rec := range recs {
			out = append(out, toConfiguration(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"Functions": out})
	}
}

type getFunctionResponse struct {
	Configuration configuration `json:"Configuration"`
	Code          codeLocation  `json:"Code"`
}

type codeLocation struct {
	RepositoryType string `json:"RepositoryType"`
}

func getFunction(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := reg.Get(chi.URLParam(r, "Name"))
		if err != nil {
			wire.WriteJSONError(w, err)
			return
		}

		// /configuration sub-path returns the bare configuration; the
		// bare function path returns the wrapped GetFunction shape.
		if strings.HasSuffix(r.URL.Path, "/configuration") {
			writeJSON(w, http.StatusOK, toConfiguration(rec))
			return
		}
		writeJSON(w, http.StatusOK, getFunctionResponse{
			Configuration: toConfiguration(rec),
			Code:          codeLocation{RepositoryType: "Local"},
		})
	}
}

func deleteFunction(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.Delete(chi.URLParam(r, "Name")); err != nil {
			wire.WriteJSONError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type updateConfigurationRequest struct {
	Runtime     *string         `json:"Runtime"`
	Role        *string         `json:"Role"`
	Handler     *string         `json:"Handler"`
	Timeout     *int            `json:"Timeout"`
	Environment *environmentDoc `json:"Environment"`
}

func updateConfiguration(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateConfigurationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "malformed request body: %v", err))
			return
		}

		patch := registry.ConfigPatch{
			Runtime:        req.Runtime,
			Role:           req.Role,
			Handler:        req.Handler,
			TimeoutSeconds: req.Timeout,
		}
		if req.Environment != nil {
			patch.Environment = req.Environment.Variables
		}

		rec, err := reg.UpdateConfig(chi.URLParam(r, "Name"), patch)
		if err != nil {
			wire.WriteJSONError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConfiguration(rec))
	}
}

func updateCode(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req codeDoc
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "malformed request body: %v", err))
			return
		}

		bundle, err := base64.StdEncoding.DecodeString(req.ZipFile)
		if err != nil {
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "ZipFile: %v", err))
			return
		}

		rec, err := reg.UpdateCode(chi.URLParam(r, "Name"), bundle)
		if err != nil {
			wire.WriteJSONError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toConfiguration(rec))
	}
}

func invoke(rt *runtime.Runtime) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "reading request body: %v", err))
			return
		}

		result, err := rt.Invoke(r.Context(), chi.URLParam(r, "Name"), payload)
		if err != nil {
			wire.WriteJSONError(w, err)
			return
		}

		w.Header().Set("X-Amz-Executed-Version", "$LATEST")
		w.Header().Set("Content-Type", "application/json")
		if result.FunctionError != "" {
			w.Header().Set("X-Amz-Function-Error", result.FunctionError)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
