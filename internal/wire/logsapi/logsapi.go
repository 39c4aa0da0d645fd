// Package logsapi implements the Logs_20140328 AWS JSON 1.1 dialect:
// a single POST / entry point dispatched by the X-Amz-Target header.
package logsapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/conorvenus/microstack/internal/apierror"
	"github.com/conorvenus/microstack/internal/ledger"
	"github.com/conorvenus/microstack/internal/wire"
)

const targetPrefix = "Logs_20140328."

// Handler dispatches a single POST / request by its X-Amz-Target
// operation name.
func Handler(led *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.Header.Get("X-Amz-Target")
		op := strings.TrimPrefix(target, targetPrefix)

		switch op {
		case "CreateLogGroup":
			createLogGroup(led, w, r)
		case "DeleteLogGroup":
			deleteLogGroup(led, w, r)
		case "DescribeLogGroups":
			describeLogGroups(led, w, r)
		case "DescribeLogStreams":
			describeLogStreams(led, w, r)
		case "PutLogEvents":
			putLogEvents(led, w, r)
		case "GetLogEvents":
			getLogEvents(led, w, r)
		default:
			wire.WriteJSONError(w, apierror.New(apierror.InvalidArgument, "unsupported operation %q", target))
		}
	}
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.New(apierror.InvalidArgument, "malformed request body: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

type createLogGroupRequest struct {
	LogGroupName    string `json:"logGroupName"`
	RetentionInDays *int   `json:"retentionInDays"`
}

func createLogGroup(led *ledger.Ledger, w http.ResponseWriter, r *http.Request) {
	var req createLogGroupRequest
	if err := decode(r, &req); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	if err := led.CreateGroup(req.LogGroupName, req.RetentionInDays); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

type deleteLogGroupRequest struct {
	LogGroupName string `json:"logGroupName"`
}

func deleteLogGroup(led *ledger.Ledger, w http.ResponseWriter, r *http.Request) {
	var req deleteLogGroupRequest
	if err := decode(r, &req); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	if err := led.DeleteGroup(req.LogGroupName); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	writeJSON(w, map[string]any{})
}

type describeLogGroupsRequest struct {
	LogGroupNamePrefix string `json:"logGroupNamePrefix"`
}

type logGroupDoc struct {
	LogGroupName    string `json:"logGroupName"`
	CreationTime    int64  `json:"creationTime"`
	StoredBytes     int64  `json:"storedBytes"`
	RetentionInDays *int   `json:"retentionInDays,omitempty"`
}

func describeLogGroups(led *ledger.Ledger, w http.ResponseWriter, r *http.Request) {
	var req describeLogGroupsRequest
	if err := decode(r, &req); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	groups := led.DescribeGroups(req.LogGroupNamePrefix)
	out := make([]logGroupDoc, 0, len(groups))
	for _, g := range groups {
		out = append(out, logGroupDoc{
			LogGroupName:    g.Name,
			CreationTime:    toMillis(g.CreationTime),
			StoredBytes:     g.StoredBytes(),
			RetentionInDays: g.RetentionDays,
		})
	}
	writeJSON(w, map[string]any{"logGroups": out})
}

type describeLogStreamsRequest struct {
	LogGroupName        string `json:"logGroupName"`
	LogStreamNamePrefix string `json:"logStreamNamePrefix"`
}

type logStreamDoc struct {
	LogStreamName     string `json:"logStreamName"`
	CreationTime      int64  `json:"creationTime"`
	StoredBytes       int64  `json:"storedBytes"`
	LastIngestionTime *int64 `json:"lastIngestionTime,omitempty"`
}

func describeLogStreams(led *ledger.Ledger, w http.ResponseWriter, r *http.Request) {
	var req describeLogStreamsRequest
	if err := decode(r, &req); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	streams, err := led.DescribeStreams(req.LogGroupName, req.LogStreamNamePrefix)
	if err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	out := make([]logStreamDoc, 0, len(streams))
	for _, s := range streams {
		doc := logStreamDoc{
			LogStreamName: s.Name,
			CreationTime:  toMillis(s.CreationTime),
			StoredBytes:   s.StoredBytes,
		}
		if s.LastIngestionTime != nil {
			ms := toMillis(*s.LastIngestionTime)
			doc.LastIngestionTime = &ms
		}
		out = append(out, doc)
	}
	writeJSON(w, map[string]any{"logStreams": out})
}

type inputLogEvent struct {
	Timestamp *int64 `json:"timestamp"`
	Message   string `json:"message"`
}

type putLogEventsRequest struct {
	LogGroupName  string          `json:"logGroupName"`
	LogStreamName string          `json:"logStreamName"`
	LogEvents     []inputLogEvent `json:"logEvents"`
}

func putLogEvents(led *ledger.Ledger, w http.ResponseWriter, r *http.Request) {
	var req putLogEventsRequest
	if err := decode(r, &req); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	for _, e := range req.LogEvents {
		var ts *time.Time
		if e.Timestamp != nil {
			t := fromMillis(*e.Timestamp)
			ts = &t
		}
		if err := led.AppendEvent(req.LogGroupName, req.LogStreamName, e.Message, ts); err != nil {
			wire.WriteJSONError(w, err)
			return
		}
	}
	writeJSON(w, map[string]any{})
}

type getLogEventsRequest struct {
	LogGroupName  string `json:"logGroupName"`
	LogStreamName string `json:"logStreamName"`
}

type outputLogEvent struct {
	Timestamp     int64  `json:"timestamp"`
	IngestionTime int64  `json:"ingestionTime"`
	Message       string `json:"message"`
}

func getLogEvents(led *ledger.Ledger, w http.ResponseWriter, r *http.Request) {
	var req getLogEventsRequest
	if err := decode(r, &req); err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	events, err := led.GetEvents(req.LogGroupName, req.LogStreamName)
	if err != nil {
		wire.WriteJSONError(w, err)
		return
	}
	out := make([]outputLogEvent, 0, len(events))
	for _, e := range events {
		out = append(out, outputLogEvent{
			Timestamp:     toMillis(e.Timestamp),
			IngestionTime: toMillis(e.IngestionTime),
			Message:       e.Message,
		})
	}
	writeJSON(w, map[string]any{"events": out})
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
