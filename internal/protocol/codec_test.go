package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseRequest(t *testing.T) {
	raw := []byte(`{"id":1,"type":"store.all","bucket":"users"}`)
	in := Parse(raw)
	if in.Kind != KindRequest {
		t.Fatalf("expected KindRequest, got %v", in.Kind)
	}
	if in.Request.ID != 1 || in.Request.Type != "store.all" {
		t.Fatalf("unexpected request: %+v", in.Request)
	}
	if in.Request.Fields["bucket"] != "users" {
		t.Fatalf("expected bucket field to survive, got %+v", in.Request.Fields)
	}
}

func TestParsePong(t *testing.T) {
	in := Parse([]byte(`{"type":"pong","timestamp":12345}`))
	if in.Kind != KindPong {
		t.Fatalf("expected KindPong, got %v", in.Kind)
	}
	if in.Pong.Timestamp != 12345 {
		t.Fatalf("expected timestamp 12345, got %d", in.Pong.Timestamp)
	}
}

func TestParseFailureModes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		code ErrorKind
	}{
		{"not json", `{not json`, ErrParse},
		{"non object", `"just a string"`, ErrInvalidRequest},
		{"missing type", `{"id":1}`, ErrInvalidRequest},
		{"empty type", `{"id":1,"type":""}`, ErrInvalidRequest},
		{"type not string", `{"id":1,"type":5}`, ErrInvalidRequest},
		{"missing id", `{"type":"store.all"}`, ErrInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Parse([]byte(tc.raw))
			if in.Kind != KindParseFailure {
				t.Fatalf("expected KindParseFailure, got %v", in.Kind)
			}
			if in.Failure.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, in.Failure.Code)
			}
		})
	}
}

func TestSerializeRoundTrips(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		data := map[string]any{"ok": true}
		frame := SerializeResult(7, data)
		in := Parse(frame)
		if in.Kind != KindRequest || in.Request.ID != 7 || in.Request.Type != "result" {
			t.Fatalf("round trip failed: %+v", in)
		}
		got, _ := in.Request.Fields["data"].(map[string]any)
		if got["ok"] != true {
			t.Fatalf("expected data to round trip, got %+v", in.Request.Fields)
		}
	})

	t.Run("error", func(t *testing.T) {
		frame := SerializeError(0, ErrParse, "bad frame", nil)
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["id"] != float64(0) || decoded["code"] != string(ErrParse) {
			t.Fatalf("unexpected error frame: %+v", decoded)
		}
	})

	t.Run("push", func(t *testing.T) {
		frame := SerializePush("subscription", "s1", []int{1, 2, 3})
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["subscriptionId"] != "s1" || decoded["channel"] != "subscription" {
			t.Fatalf("unexpected push frame: %+v", decoded)
		}
	})

	t.Run("welcome", func(t *testing.T) {
		frame := SerializeWelcome(1000, true)
		var decoded map[string]any
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if decoded["version"] != Version || decoded["requiresAuth"] != true {
			t.Fatalf("unexpected welcome frame: %+v", decoded)
		}
	})
}

func TestSerializeErrorDetails(t *testing.T) {
	frame := SerializeError(3, ErrRateLimited, "too many requests", map[string]any{"retryAfterMs": 250})
	var decoded map[string]any
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	details, ok := decoded["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected details object, got %+v", decoded)
	}
	if details["retryAfterMs"] != float64(250) {
		t.Fatalf("expected retryAfterMs 250, got %+v", details)
	}
}
