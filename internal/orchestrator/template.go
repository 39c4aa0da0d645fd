package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conorvenus/microstack/internal/apierror"
)

// resourceTemplate is one resource's parsed template body.
type resourceTemplate struct {
	Type       string
	Properties map[string]any
	DependsOn  []string
}

// resourceEntry pairs a logical id with its template, preserving the
// order it appeared in the template's Resources mapping.
type resourceEntry struct {
	LogicalID string
	Template  resourceTemplate
}

var lambdaProperties = map[string]bool{
	"FunctionName": true, "Runtime": true, "Role": true, "Handler": true,
	"Code": true, "Environment": true, "Timeout": true,
}
var logGroupProperties = map[string]bool{
	"LogGroupName": true, "RetentionInDays": true,
}
var bucketProperties = map[string]bool{
	"BucketName": true,
}

// parseTemplate parses raw as JSON, falling back to YAML on failure,
// validates the Resources mapping and each known resource type's
// properties, and returns entries in the order they appeared.
func parseTemplate(raw []byte) ([]resourceEntry, error) {
	entries, err := decodeOrderedJSON(raw)
	if err != nil {
		entries, err = decodeOrderedYAML(raw)
		if err != nil {
			return nil, apierror.New(apierror.InvalidArgument, "template is neither valid JSON nor YAML: %v", err)
		}
	}
	if len(entries) == 0 {
		return nil, apierror.New(apierror.InvalidArgument, "template has no Resources")
	}
	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Template.Type == "" {
			return nil, apierror.New(apierror.InvalidArgument, "resource %q is missing Type", e.LogicalID)
		}
		if known[e.LogicalID] {
			return nil, apierror.New(apierror.InvalidArgument, "duplicate logical id %q", e.LogicalID)
		}
		known[e.LogicalID] = true
		if err := validateProperties(e.Template.Type, e.Template.Properties); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func indexByID(entries []resourceEntry) map[string]resourceTemplate {
	out := make(map[string]resourceTemplate, len(entries))
	for _, e := range entries {
		out[e.LogicalID] = e.Template
	}
	return out
}

// rawResource is the shape a single resource decodes into, for either
// codec, before DependsOn is normalized from string-or-list.
type rawResource struct {
	Type       string         `json:"Type" yaml:"Type"`
	Properties map[string]any `json:"Properties" yaml:"Properties"`
	DependsOn  any            `json:"DependsOn" yaml:"DependsOn"`
}

func (r rawResource) normalize() (resourceTemplate, error) {
	deps, err := normalizeDependsOn(r.DependsOn)
	if err != nil {
		return resourceTemplate{}, err
	}
	return resourceTemplate{Type: r.Type, Properties: r.Properties, DependsOn: deps}, nil
}

func normalizeDependsOn(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{val}, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, apierror.New(apierror.InvalidArgument, "DependsOn entries must be strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, apierror.New(apierror.InvalidArgument, "DependsOn must be a string or list of strings")
	}
}

// decodeOrderedJSON decodes the template's top-level Resources mapping
// preserving key order, since Go's map[string]any does not.
func decodeOrderedJSON(raw []byte) ([]resourceEntry, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	resourcesRaw, ok := root["Resources"]
	if !ok {
		return nil, fmt.Errorf("template missing Resources")
	}

	dec := json.NewDecoder(bytes.NewReader(resourcesRaw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("Resources must be a mapping")
	}

	var entries []resourceEntry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("resource key must be a string")
		}
		var raw rawResource
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		tmpl, err := raw.normalize()
		if err != nil {
			return nil, err
		}
		entries = append(entries, resourceEntry{LogicalID: key, Template: tmpl})
	}
	return entries, nil
}

// decodeOrderedYAML uses yaml.Node directly instead of unmarshalling
// into a map, since mapping nodes preserve key order and a plain map
// target would not.
func decodeOrderedYAML(raw []byte) ([]resourceEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("template is not a mapping")
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template is not a mapping")
	}

	var resourcesNode *yaml.Node
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value == "Resources" {
			resourcesNode = top.Content[i+1]
			break
		}
	}
	if resourcesNode == nil {
		return nil, fmt.Errorf("template missing Resources")
	}
	if resourcesNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("Resources must be a mapping")
	}

	var entries []resourceEntry
	for i := 0; i+1 < len(resourcesNode.Content); i += 2 {
		key := resourcesNode.Content[i].Value
		var raw rawResource
		if err := resourcesNode.Content[i+1].Decode(&raw); err != nil {
			return nil, err
		}
		tmpl, err := raw.normalize()
		if err != nil {
			return nil, err
		}
		entries = append(entries, resourceEntry{LogicalID: key, Template: tmpl})
	}
	return entries, nil
}

func validateProperties(resourceType string, props map[string]any) error {
	switch resourceType {
	case "AWS::Lambda::Function":
		return validateLambdaProperties(props)
	case "AWS::Logs::LogGroup":
		return validateAllowed(props, logGroupProperties, "LogGroup", []string{"LogGroupName"}, []string{"RetentionInDays"})
	case "AWS::S3::Bucket":
		return validateAllowed(props, bucketProperties, "Bucket", []string{"BucketName"}, nil)
	default:
		// Unsupported types are rejected at creation time, not here —
		// their property shape is unknown.
		return nil
	}
}

func validateLambdaProperties(props map[string]any) error {
	if err := validateAllowed(props, lambdaProperties, "Lambda", []string{"FunctionName", "Runtime", "Role", "Handler"}, nil); err != nil {
		return err
	}
	code, ok := props["Code"].(map[string]any)
	if !ok || len(code) != 1 {
		return apierror.New(apierror.InvalidArgument, "Lambda Code must be a mapping containing exactly the key ZipFile")
	}
	if _, ok := code["ZipFile"]; !ok {
		return apierror.New(apierror.InvalidArgument, "Lambda Code must be a mapping containing exactly the key ZipFile")
	}
	if env, ok := props["Environment"]; ok {
		envMap, ok := env.(map[string]any)
		if !ok {
			return apierror.New(apierror.InvalidArgument, "Lambda Environment must be a mapping")
		}
		vars, ok := envMap["Variables"]
		if ok {
			varsMap, ok := vars.(map[string]any)
			if !ok {
				return apierror.New(apierror.InvalidArgument, "Lambda Environment.Variables must be a string map")
			}
			for _, v := range varsMap {
				if _, ok := v.(string); !ok {
					return apierror.New(apierror.InvalidArgument, "Lambda Environment.Variables values must be strings")
				}
			}
		}
	}
	if timeout, ok := props["Timeout"]; ok {
		if !isNumeric(timeout) {
			return apierror.New(apierror.InvalidArgument, "Lambda Timeout must be numeric")
		}
	}
	return nil
}

func validateAllowed(props map[string]any, allowed map[string]bool, typeName string, required []string, numericFields []string) error {
	for k := range props {
		if !allowed[k] {
			return apierror.New(apierror.InvalidArgument, "%s: unknown property %q", typeName, k)
		}
	}
	for _, field := range required {
		v, ok := props[field]
		if !ok {
			return apierror.New(apierror.InvalidArgument, "%s: missing required property %q", typeName, field)
		}
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return apierror.New(apierror.InvalidArgument, "%s: property %q must be a non-empty string", typeName, field)
		}
	}
	for _, field := range numericFields {
		if v, ok := props[field]; ok && !isNumeric(v) {
			return apierror.New(apierror.InvalidArgument, "%s: property %q must be numeric", typeName, field)
		}
	}
	return nil
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, int, int64:
		return true
	default:
		return false
	}
}
