// Package stackapi implements the CloudFormation-style Query/XML
// dialect: a single POST / entry point whose form-encoded Action field
// selects the operation, responses rendered as the matching
// <ActionResponse> XML document.
package stackapi

import (
	"encoding/xml"
	"net/http"
	"time"

	"github.com/conorvenus/microstack/internal/apierror"
	"github.com/conorvenus/microstack/internal/orchestrator"
	"github.com/conorvenus/microstack/internal/wire"
)

// Handler dispatches a single POST / request by its form-encoded
// Action field.
func Handler(o *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			wire.WriteStackError(w, apierror.New(apierror.InvalidArgument, "malformed form body: %v", err))
			return
		}

		switch r.FormValue("Action") {
		case "CreateStack":
			createStack(o, w, r)
		case "UpdateStack":
			updateStack(o, w, r)
		case "DeleteStack":
			deleteStack(o, w, r)
		case "DescribeStacks":
			describeStacks(o, w, r)
		case "DescribeStackResources":
			describeStackResources(o, w, r)
		case "DescribeStackEvents":
			describeStackEvents(o, w, r)
		default:
			wire.WriteStackError(w, apierror.New(apierror.InvalidArgument, "unsupported action %q", r.FormValue("Action")))
		}
	}
}

type createStackResponse struct {
	XMLName xml.Name `xml:"CreateStackResponse"`
	Result  struct {
		StackID string `xml:"StackId"`
	} `xml:"CreateStackResult"`
}

func createStack(o *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	stack, err := o.CreateStack(r.FormValue("StackName"), r.FormValue("TemplateBody"))
	if err != nil {
		wire.WriteStackError(w, err)
		return
	}
	var resp createStackResponse
	resp.Result.StackID = stack.StackID
	writeXML(w, resp)
}

type updateStackResponse struct {
	XMLName xml.Name `xml:"UpdateStackResponse"`
	Result  struct {
		StackID string `xml:"StackId"`
	} `xml:"UpdateStackResult"`
}

func updateStack(o *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	stack, err := o.UpdateStack(r.FormValue("StackName"), r.FormValue("TemplateBody"))
	if err != nil {
		wire.WriteStackError(w, err)
		return
	}
	var resp updateStackResponse
	resp.Result.StackID = stack.StackID
	writeXML(w, resp)
}

type deleteStackResponse struct {
	XMLName xml.Name `xml:"DeleteStackResponse"`
}

func deleteStack(o *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	if _, err := o.DeleteStack(r.FormValue("StackName")); err != nil {
		wire.WriteStackError(w, err)
		return
	}
	writeXML(w, deleteStackResponse{})
}

type describeStacksResponse struct {
	XMLName xml.Name `xml:"DescribeStacksResponse"`
	Result  struct {
		Stacks []stackDoc `xml:"Stacks>member"`
	} `xml:"DescribeStacksResult"`
}

type stackDoc struct {
	StackID           string `xml:"StackId"`
	StackName         string `xml:"StackName"`
	CreationTime      string `xml:"CreationTime"`
	StackStatus       string `xml:"StackStatus"`
	StackStatusReason string `xml:"StackStatusReason,omitempty"`
}

func describeStacks(o *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	var stacks []*orchestrator.Stack
	if name := r.FormValue("StackName"); name != "" {
		stack, err := o.DescribeStack(name)
		if err != nil {
			wire.WriteStackError(w, err)
			return
		}
		stacks = []*orchestrator.Stack{stack}
	} else {
		stacks = o.ListStacks()
	}

	var resp describeStacksResponse
	for _, s := range stacks {
		resp.Result.Stacks = append(resp.Result.Stacks, stackDoc{
			StackID:           s.StackID,
			StackName:         s.StackName,
			CreationTime:      s.CreationTime.Format(time.RFC3339),
			StackStatus:       string(s.Status),
			StackStatusReason: s.StatusReason,
		})
	}
	writeXML(w, resp)
}

type describeStackResourcesResponse struct {
	XMLName xml.Name `xml:"DescribeStackResourcesResponse"`
	Result  struct {
		Resources []resourceDoc `xml:"StackResources>member"`
	} `xml:"DescribeStackResourcesResult"`
}

type resourceDoc struct {
	LogicalResourceID    string `xml:"LogicalResourceId"`
	PhysicalResourceID   string `xml:"PhysicalResourceId"`
	ResourceType         string `xml:"ResourceType"`
	ResourceStatus       string `xml:"ResourceStatus"`
	ResourceStatusReason string `xml:"ResourceStatusReason,omitempty"`
	Timestamp            string `xml:"Timestamp"`
}

func describeStackResources(o *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	stack, err := o.DescribeStack(r.FormValue("StackName"))
	if err != nil {
		wire.WriteStackError(w, err)
		return
	}

	var resp describeStackResourcesResponse
	for _, res := range stack.Resources {
		resp.Result.Resources = append(resp.Result.Resources, resourceDoc{
			LogicalResourceID:    res.LogicalID,
			PhysicalResourceID:   res.PhysicalID,
			ResourceType:         res.Type,
			ResourceStatus:       string(res.Status),
			ResourceStatusReason: res.StatusReason,
			Timestamp:            res.Timestamp.Format(time.RFC3339),
		})
	}
	writeXML(w, resp)
}

type describeStackEventsResponse struct {
	XMLName xml.Name `xml:"DescribeStackEventsResponse"`
	Result  struct {
		Events []eventDoc `xml:"StackEvents>member"`
	} `xml:"DescribeStackEventsResult"`
}

type eventDoc struct {
	EventID              string `xml:"EventId"`
	StackName            string `xml:"StackName"`
	LogicalResourceID    string `xml:"LogicalResourceId"`
	ResourceType         string `xml:"ResourceType"`
	ResourceStatus       string `xml:"ResourceStatus"`
	ResourceStatusReason string `xml:"ResourceStatusReason,omitempty"`
	Timestamp            string `xml:"Timestamp"`
}

func describeStackEvents(o *orchestrator.Orchestrator, w http.ResponseWriter, r *http.Request) {
	stack, err := o.DescribeStack(r.FormValue("StackName"))
	if err != nil {
		wire.WriteStackError(w, err)
		return
	}

	var resp describeStackEventsResponse
	for _, ev := range stack.Events {
		resp.Result.Events = append(resp.Result.Events, eventDoc{
			EventID:              ev.EventID,
			StackName:            stack.StackName,
			LogicalResourceID:    ev.LogicalID,
			ResourceType:         ev.ResourceType,
			ResourceStatus:       string(ev.Status),
			ResourceStatusReason: ev.StatusReason,
			Timestamp:            ev.Timestamp.Format(time.RFC3339),
		})
	}
	writeXML(w, resp)
}

func writeXML(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(body)
}
