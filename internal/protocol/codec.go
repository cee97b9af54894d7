package protocol

import "encoding/json"

// Parse turns a raw UTF-8 JSON frame into a tagged Inbound message. It never
// returns a Go error: every failure mode is represented as a KindParseFailure
// Inbound so callers can respond uniformly.
func Parse(raw []byte) *Inbound {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return &Inbound{Kind: KindParseFailure, Failure: &ParseFailure{
			Code:    ErrParse,
			Message: "invalid JSON frame",
		}}
	}
	obj, isObject := decoded.(map[string]any)
	if !isObject {
		return &Inbound{Kind: KindParseFailure, Failure: &ParseFailure{
			Code:    ErrInvalidRequest,
			Message: "frame must be a JSON object",
		}}
	}

	typeVal, hasType := obj["type"]
	typeStr, typeIsString := typeVal.(string)
	if !hasType || !typeIsString || typeStr == "" {
		return &Inbound{Kind: KindParseFailure, Failure: &ParseFailure{
			Code:    ErrInvalidRequest,
			Message: "frame missing a non-empty string \"type\"",
		}}
	}

	if typeStr == "pong" {
		ts, _ := numberField(obj["timestamp"])
		return &Inbound{Kind: KindPong, Pong: &Pong{Timestamp: ts}}
	}

	idVal, hasID := obj["id"]
	id, idIsNumber := numberField(idVal)
	if !hasID || !idIsNumber {
		return &Inbound{Kind: KindParseFailure, Failure: &ParseFailure{
			Code:    ErrInvalidRequest,
			Message: "frame missing a numeric \"id\"",
		}}
	}

	fields := make(map[string]any, len(obj))
	for k, v := range obj {
		if k == "id" || k == "type" {
			continue
		}
		fields[k] = v
	}

	return &Inbound{Kind: KindRequest, Request: &Request{ID: int64(id), Type: typeStr, Fields: fields}}
}

// numberField extracts a numeric value decoded by encoding/json (always
// float64 for a JSON number) as an int64.
func numberField(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// SerializeWelcome builds the welcome frame sent immediately after the
// transport is open, before any client frame is consumed.
func SerializeWelcome(serverTimeMs int64, requiresAuth bool) []byte {
	return mustMarshal(map[string]any{
		"type":         "welcome",
		"version":      Version,
		"serverTime":   serverTimeMs,
		"requiresAuth": requiresAuth,
	})
}

// SerializePing builds a heartbeat ping frame.
func SerializePing(timestampMs int64) []byte {
	return mustMarshal(map[string]any{
		"type":      "ping",
		"timestamp": timestampMs,
	})
}

// SerializeResult builds a successful correlated response.
func SerializeResult(id int64, data any) []byte {
	return mustMarshal(map[string]any{
		"id":   id,
		"type": "result",
		"data": data,
	})
}

// SerializeError builds a correlated error response. id is 0 when the
// original request id could not be recovered (e.g. a parse failure).
func SerializeError(id int64, code ErrorKind, message string, details map[string]any) []byte {
	frame := map[string]any{
		"id":      id,
		"type":    "error",
		"code":    code,
		"message": message,
	}
	if details != nil {
		frame["details"] = details
	}
	return mustMarshal(frame)
}

// SerializePush builds a server-initiated push tied to a subscription.
func SerializePush(channel, subscriptionID string, data any) []byte {
	return mustMarshal(map[string]any{
		"type":           "push",
		"channel":        channel,
		"subscriptionId": subscriptionID,
		"data":           data,
	})
}

// SerializeSystem builds a server-initiated system event frame. extra is
// merged into the frame alongside type/event.
func SerializeSystem(event string, extra map[string]any) []byte {
	frame := map[string]any{
		"type":  "system",
		"event": event,
	}
	for k, v := range extra {
		frame[k] = v
	}
	return mustMarshal(frame)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every value passed to the Serialize* helpers above is built from
		// plain maps/slices/primitives, which always marshal cleanly.
		panic("protocol: unmarshalable outbound frame: " + err.Error())
	}
	return b
}
