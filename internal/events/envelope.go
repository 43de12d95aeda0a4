package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// marshalEnvelope renders an event for external transports. The envelope
// fields are written in a fixed order and the payload's object keys are
// sorted, so the Kafka copy and the S3 copy of the same event are
// byte-identical and diffable across re-deliveries.
func marshalEnvelope(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	writeString(&buf, string(ev.Type))
	buf.WriteString(`,"deployment_id":`)
	writeString(&buf, ev.DeploymentID)
	buf.WriteString(`,"timestamp":`)
	writeString(&buf, ev.Timestamp.UTC().Format(time.RFC3339Nano))
	buf.WriteString(`,"data":`)
	if err := writePayload(&buf, payload); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type, err)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writePayload re-emits already-valid JSON with object keys sorted at every
// depth. Numbers pass through in their original textual form.
func writePayload(buf *bytes.Buffer, raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	writeValue(buf, v)
	return nil
}

func writeValue(buf *bytes.Buffer, v interface{}) {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeValue(buf, vv[k])
		}
		buf.WriteByte('}')
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeValue(buf, elem)
		}
		buf.WriteByte(']')
	case string:
		writeString(buf, vv)
	case json.Number:
		buf.WriteString(vv.String())
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	default:
		buf.WriteString("null")
	}
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
