package tracefile

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

const (
	attrServiceName = "service.name"
	attrThreadName  = "thread.name"
	attrThreadID    = "thread.id"

	nodeUnknown    = "unknown"
	nodeNoResource = "no resource"
)

var unmarshalJSON = protojson.UnmarshalOptions{DiscardUnknown: true}

func decodeOTLPJSON(data []byte) ([]trace.Record, error) {
	var docs []json.RawMessage
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("parsing request array: %w", err)
		}
	} else {
		docs = []json.RawMessage{data}
	}

	var records []trace.Record
	for i, doc := range docs {
		normalized, err := normalizeIDs(doc)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		var req coltracepb.ExportTraceServiceRequest
		if err := unmarshalJSON.Unmarshal(normalized, &req); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		records = append(records, FromRequest(&req)...)
	}
	return records, nil
}

func decodeOTLPProto(data []byte) ([]trace.Record, error) {
	var req coltracepb.ExportTraceServiceRequest
	if err := proto.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing protobuf request: %w", err)
	}
	return FromRequest(&req), nil
}

// FromRequest flattens an OTLP export request into records. The node of a
// span is its resource's service.name.
func FromRequest(req *coltracepb.ExportTraceServiceRequest) []trace.Record {
	var out []trace.Record
	for _, rs := range req.GetResourceSpans() {
		node := nodeNoResource
		if res := rs.GetResource(); res != nil {
			node = nodeUnknown
			for _, kv := range res.GetAttributes() {
				if kv.GetKey() == attrServiceName {
					if sv, ok := kv.GetValue().GetValue().(*commonpb.AnyValue_StringValue); ok {
						node = sv.StringValue
					}
				}
			}
		}
		for _, ss := range rs.GetScopeSpans() {
			for _, s := range ss.GetSpans() {
				out = append(out, fromSpan(s, node))
			}
		}
	}
	return out
}

func fromSpan(s *tracepb.Span, node string) trace.Record {
	rec := trace.Record{
		ID:         hex.EncodeToString(s.GetSpanId()),
		ParentID:   hex.EncodeToString(s.GetParentSpanId()),
		TraceID:    hex.EncodeToString(s.GetTraceId()),
		Node:       node,
		Name:       s.GetName(),
		Attributes: attributes(s.GetAttributes()),
	}
	if v := s.GetStartTimeUnixNano(); v != 0 {
		t := trace.Time(v)
		rec.Start = &t
	}
	if v := s.GetEndTimeUnixNano(); v != 0 {
		t := trace.Time(v)
		rec.End = &t
	}
	if v, ok := rec.Attributes[attrThreadName]; ok {
		rec.Thread = v.Text()
	} else if v, ok := rec.Attributes[attrThreadID]; ok {
		rec.Thread = v.Text()
	}
	for _, ev := range s.GetEvents() {
		rec.Events = append(rec.Events, trace.Event{
			Time:       trace.Time(ev.GetTimeUnixNano()),
			Name:       ev.GetName(),
			Attributes: attributes(ev.GetAttributes()),
		})
	}
	return rec
}

func attributes(kvs []*commonpb.KeyValue) trace.Attributes {
	if len(kvs) == 0 {
		return nil
	}
	out := make(trace.Attributes, len(kvs))
	for _, kv := range kvs {
		out[kv.GetKey()] = value(kv.GetValue())
	}
	return out
}

func value(v *commonpb.AnyValue) trace.Value {
	switch x := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return trace.StringValue(x.StringValue)
	case *commonpb.AnyValue_IntValue:
		return trace.IntValue(x.IntValue)
	case *commonpb.AnyValue_DoubleValue:
		return trace.FloatValue(x.DoubleValue)
	case *commonpb.AnyValue_BoolValue:
		return trace.BoolValue(x.BoolValue)
	case *commonpb.AnyValue_BytesValue:
		return trace.StringValue(hex.EncodeToString(x.BytesValue))
	case nil:
		return trace.StringValue("")
	default:
		// Arrays and key/value lists are shown in their JSON form.
		b, err := protojson.Marshal(v)
		if err != nil {
			return trace.StringValue(fmt.Sprint(v))
		}
		return trace.StringValue(string(b))
	}
}

// idFields are the OTLP/JSON id fields carried as hex strings, which
// protojson expects as base64.
var idFields = map[string]bool{
	"traceId": true, "spanId": true, "parentSpanId": true,
	"trace_id": true, "span_id": true, "parent_span_id": true,
}

func normalizeIDs(doc []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	return json.Marshal(rewriteIDs(v))
}

func rewriteIDs(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, child := range x {
			if s, ok := child.(string); ok && idFields[k] {
				x[k] = hexToBase64(s)
				continue
			}
			x[k] = rewriteIDs(child)
		}
	case []any:
		for i := range x {
			x[i] = rewriteIDs(x[i])
		}
	}
	return v
}

// hexToBase64 converts 8- and 16-byte hex ids. Anything else is assumed
// to be base64 already.
func hexToBase64(s string) string {
	if len(s) != 16 && len(s) != 32 {
		return s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return s
	}
	return base64.StdEncoding.EncodeToString(b)
}

func topLevelKeys(doc []byte) (map[string]bool, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(m))
	for k := range m {
		keys[k] = true
	}
	return keys, nil
}
