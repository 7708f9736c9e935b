package webhook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type field string

const (
	fieldConversationID field = "conversation_id"
	fieldUserID         field = "user_id"
	fieldLeadID         field = "lead_id"
	fieldAgentNumber    field = "agent_number"
	fieldLeadNumber     field = "lead_number"
	fieldEventType      field = "event_type"
	fieldStatus         field = "status"
	fieldStartedAt      field = "started_at"
	fieldEndedAt        field = "ended_at"
	fieldDuration       field = "duration"
	fieldCost           field = "cost"
	fieldTranscript     field = "transcript"
	fieldAnalysis       field = "analysis"
	fieldMetadata       field = "metadata"
	fieldDynamicVars    field = "dynamic_variables"
)

const dynVars = "data.conversation_initiation_client_data.dynamic_variables"

// fieldPaths lists gjson paths per field in priority order. The first path
// holding a non-empty value wins.
var fieldPaths = map[field][]string{
	fieldConversationID: {
		"data.conversation_id", "conversation_id",
		"data.conversationId", "conversationId",
		"data.metadata.conversation_id", dynVars + ".system__conversation_id",
	},
	fieldUserID: {
		dynVars + ".user_id", "data.dynamic_variables.user_id", "dynamic_variables.user_id",
		"data.user_id", "user_id", "data.userId", "userId",
		"data.metadata.user_id", "metadata.user_id",
	},
	fieldLeadID: {
		dynVars + ".lead_id", "data.dynamic_variables.lead_id", "dynamic_variables.lead_id",
		"data.lead_id", "lead_id", "data.leadId", "leadId",
		"data.metadata.lead_id", "metadata.lead_id",
	},
	fieldAgentNumber: {
		dynVars + ".agent_phone_number", "data.metadata.phone_call.agent_number",
		"data.agent_number", "agent_number", "from_number", "from",
	},
	fieldLeadNumber: {
		dynVars + ".lead_phone_number", "data.metadata.phone_call.external_number",
		"data.to_number", "to_number", "to",
	},
	fieldEventType: {"type", "event_type", "event", "data.event_type", "eventType"},
	fieldStatus:    {"data.status", "status", "data.call_status", "call_status", "data.callStatus"},
	fieldStartedAt: {
		"data.metadata.start_time_unix_secs", "data.started_at", "started_at",
		"data.start_time", "data.startedAt", "startedAt",
	},
	fieldEndedAt: {
		"data.ended_at", "ended_at", "data.end_time", "data.endedAt", "endedAt",
		"data.metadata.end_time_unix_secs",
	},
	fieldDuration: {
		"data.metadata.call_duration_secs", "data.call_duration_secs", "call_duration_secs",
		"data.duration", "duration",
	},
	fieldCost:        {"data.metadata.cost", "data.cost", "cost"},
	fieldTranscript:  {"data.transcript", "transcript"},
	fieldAnalysis:    {"data.analysis", "analysis"},
	fieldMetadata:    {"data.metadata", "metadata"},
	fieldDynamicVars: {dynVars, "data.dynamic_variables", "dynamic_variables"},
}

func lookup(raw []byte, f field) (gjson.Result, bool) {
	for _, p := range fieldPaths[f] {
		r := gjson.GetBytes(raw, p)
		if !r.Exists() || r.Type == gjson.Null {
			continue
		}
		if r.Type == gjson.String && strings.TrimSpace(r.Str) == "" {
			continue
		}
		return r, true
	}
	return gjson.Result{}, false
}

func lookupString(raw []byte, f field) string {
	r, ok := lookup(raw, f)
	if !ok {
		return ""
	}
	return strings.TrimSpace(r.String())
}

// lookupTime accepts unix seconds, unix milliseconds or RFC 3339.
func lookupTime(raw []byte, f field) *time.Time {
	r, ok := lookup(raw, f)
	if !ok {
		return nil
	}
	return parseTime(r)
}

func parseTime(r gjson.Result) *time.Time {
	var t time.Time
	switch r.Type {
	case gjson.Number:
		t = fromUnix(r.Float())
	case gjson.String:
		if f, err := strconv.ParseFloat(r.Str, 64); err == nil {
			t = fromUnix(f)
			break
		}
		parsed, err := time.Parse(time.RFC3339Nano, r.Str)
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

func fromUnix(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v > 1e12 {
		return time.UnixMilli(int64(v))
	}
	sec := int64(v)
	return time.Unix(sec, int64((v-float64(sec))*1e9))
}

func lookupInt(raw []byte, f field) *int {
	r, ok := lookup(raw, f)
	if !ok {
		return nil
	}
	var n int
	switch r.Type {
	case gjson.Number:
		n = int(r.Int())
	case gjson.String:
		v, err := strconv.ParseFloat(r.Str, 64)
		if err != nil {
			return nil
		}
		n = int(v)
	default:
		return nil
	}
	return &n
}

func lookupFloat(raw []byte, f field) *float64 {
	r, ok := lookup(raw, f)
	if !ok {
		return nil
	}
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Float()
	case gjson.String:
		parsed, err := strconv.ParseFloat(r.Str, 64)
		if err != nil {
			return nil
		}
		v = parsed
	default:
		return nil
	}
	return &v
}

func lookupRaw(raw []byte, f field) json.RawMessage {
	r, ok := lookup(raw, f)
	if !ok {
		return nil
	}
	return json.RawMessage(r.Raw)
}

func lookupObject(raw []byte, f field) map[string]any {
	r, ok := lookup(raw, f)
	if !ok || !r.IsObject() {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.Raw), &m); err != nil {
		return nil
	}
	return m
}
