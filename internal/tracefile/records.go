package tracefile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// Document is the flat records file: every span with millisecond
// timestamps. A null or missing end_ms marks an open span.
type Document struct {
	Spans []SpanRecord `json:"spans"`
}

type SpanRecord struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Node       string         `json:"node"`
	Thread     string         `json:"thread,omitempty"`
	Name       string         `json:"name"`
	StartMs    *int64         `json:"start_ms"`
	EndMs      *int64         `json:"end_ms"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Events     []EventRecord  `json:"events,omitempty"`
}

type EventRecord struct {
	TimeMs     int64          `json:"time_ms"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// DecodeRecords parses a records document.
func DecodeRecords(data []byte) ([]trace.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing records document: %w", err)
	}

	out := make([]trace.Record, 0, len(doc.Spans))
	for _, s := range doc.Spans {
		rec := trace.Record{
			ID:         s.ID,
			ParentID:   s.ParentID,
			TraceID:    s.TraceID,
			Node:       s.Node,
			Thread:     s.Thread,
			Name:       s.Name,
			Start:      millis(s.StartMs),
			End:        millis(s.EndMs),
			Attributes: jsonAttributes(s.Attributes),
		}
		for _, ev := range s.Events {
			rec.Events = append(rec.Events, trace.Event{
				Time:       trace.FromMillis(ev.TimeMs),
				Name:       ev.Name,
				Attributes: jsonAttributes(ev.Attributes),
			})
		}
		out = append(out, rec)
	}
	return out, nil
}

// EncodeRecords writes records as a records document. Sub-millisecond
// precision is truncated.
func EncodeRecords(records []trace.Record) ([]byte, error) {
	doc := Document{Spans: make([]SpanRecord, 0, len(records))}
	for _, r := range records {
		s := SpanRecord{
			ID:         r.ID,
			ParentID:   r.ParentID,
			TraceID:    r.TraceID,
			Node:       r.Node,
			Thread:     r.Thread,
			Name:       r.Name,
			StartMs:    toMillis(r.Start),
			EndMs:      toMillis(r.End),
			Attributes: plainAttributes(r.Attributes),
		}
		for _, ev := range r.Events {
			s.Events = append(s.Events, EventRecord{
				TimeMs:     ev.Time.Millis(),
				Name:       ev.Name,
				Attributes: plainAttributes(ev.Attributes),
			})
		}
		doc.Spans = append(doc.Spans, s)
	}
	return json.MarshalIndent(doc, "", "  ")
}

func millis(ms *int64) *trace.Time {
	if ms == nil {
		return nil
	}
	t := trace.FromMillis(*ms)
	return &t
}

func toMillis(t *trace.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.Millis()
	return &ms
}

func jsonAttributes(m map[string]any) trace.Attributes {
	if len(m) == 0 {
		return nil
	}
	out := make(trace.Attributes, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case string:
			out[k] = trace.StringValue(x)
		case bool:
			out[k] = trace.BoolValue(x)
		case json.Number:
			if i, err := x.Int64(); err == nil {
				out[k] = trace.IntValue(i)
			} else if f, err := x.Float64(); err == nil {
				out[k] = trace.FloatValue(f)
			} else {
				out[k] = trace.StringValue(x.String())
			}
		case nil:
			out[k] = trace.StringValue("")
		default:
			b, _ := json.Marshal(x)
			out[k] = trace.StringValue(string(b))
		}
	}
	return out
}

func plainAttributes(a trace.Attributes) map[string]any {
	if len(a) == 0 {
		return nil
	}
	out := make(map[string]any, len(a))
	for k, v := range a {
		switch v.Kind {
		case trace.KindInt:
			out[k] = v.Int
		case trace.KindFloat:
			out[k] = v.Float
		case trace.KindBool:
			out[k] = v.Bool
		default:
			out[k] = v.Str
		}
	}
	return out
}
