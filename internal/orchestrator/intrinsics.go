package orchestrator

import (
	"strings"

	"github.com/conorvenus/microstack/internal/apierror"
)

// resolveProps walks props, substituting Ref and Fn::GetAtt forms
// against already-created resources. Any other Fn::* form fails
// template validation.
func resolveProps(props map[string]any, created map[string]*Resource) (map[string]any, error) {
	resolved, err := resolveValue(props, created)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]any)
	return out, nil
}

func resolveValue(v any, created map[string]*Resource) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if logicalID, ok := val["Ref"].(string); ok {
				return resolveRef(logicalID, created)
			}
			if attr, ok := val["Fn::GetAtt"]; ok {
				return resolveGetAtt(attr, created)
			}
			for k := range val {
				if strings.HasPrefix(k, "Fn::") {
					return nil, apierror.New(apierror.InvalidArgument, "unsupported intrinsic %q", k)
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, vv := range val {
			rv, err := resolveValue(vv, created)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			rv, err := resolveValue(vv, created)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return val, nil
	}
}

func resolveRef(logicalID string, created map[string]*Resource) (any, error) {
	res, ok := created[logicalID]
	if !ok {
		return nil, apierror.New(apierror.InvalidArgument, "Ref to %q which is not yet CREATE_COMPLETE", logicalID)
	}
	return res.PhysicalID, nil
}

func resolveGetAtt(attr any, created map[string]*Resource) (any, error) {
	var logicalID, attrName string
	switch a := attr.(type) {
	case string:
		parts := strings.SplitN(a, ".", 2)
		if len(parts) != 2 {
			return nil, apierror.New(apierror.InvalidArgument, "malformed Fn::GetAtt %q", a)
		}
		logicalID, attrName = parts[0], parts[1]
	case []any:
		if len(a) != 2 {
			return nil, apierror.New(apierror.InvalidArgument, "malformed Fn::GetAtt")
		}
		var ok1, ok2 bool
		logicalID, ok1 = a[0].(string)
		attrName, ok2 = a[1].(string)
		if !ok1 || !ok2 {
			return nil, apierror.New(apierror.InvalidArgument, "malformed Fn::GetAtt")
		}
	default:
		return nil, apierror.New(apierror.InvalidArgument, "malformed Fn::GetAtt")
	}
	if attrName != "Arn" {
		return nil, apierror.New(apierror.InvalidArgument, "Fn::GetAtt only supports the Arn attribute, got %q", attrName)
	}
	res, ok := created[logicalID]
	if !ok {
		return nil, apierror.New(apierror.InvalidArgument, "Fn::GetAtt to %q which is not yet CREATE_COMPLETE", logicalID)
	}
	return res.ARN, nil
}
