package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	f, err := Decode([]byte(`{"type":"response","req_id":"req_1_1","okay":true,"data":{"channel_id":42,"channel_name":"general"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	resp, ok := f.(*Response)
	if !ok {
		t.Fatalf("expected *Response, got %T", f)
	}
	if resp.ReqID != "req_1_1" || !resp.Okay {
		t.Fatalf("unexpected response: %+v", resp)
	}

	var join JoinResult
	if err := resp.DecodeData(&join); err != nil {
		t.Fatalf("DecodeData failed: %v", err)
	}
	if join.ChannelID != "42" {
		t.Errorf("expected channel id 42, got %q", join.ChannelID)
	}
	if join.ChannelName != "general" {
		t.Errorf("expected channel name general, got %q", join.ChannelName)
	}
}

func TestDecodeFailedResponse(t *testing.T) {
	f, err := Decode([]byte(`{"type":"response","req_id":"r","okay":false,"error":"Nickname already in use"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	resp := f.(*Response)
	if resp.Err() == nil || resp.Err().Error() != "Nickname already in use" {
		t.Fatalf("unexpected error: %v", resp.Err())
	}
}

func TestDecodeEventWithNumericIDs(t *testing.T) {
	f, err := Decode([]byte(`{"type":"event","channel_id":7,"event":"topic_change","user_id":3,"nickname":"bob","sent_at":"2024-01-02T03:04:05Z","topic":"hello"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	ev, ok := f.(*ChatEvent)
	if !ok {
		t.Fatalf("expected *ChatEvent, got %T", f)
	}
	if ev.ChannelID != "7" || ev.UserID != "3" {
		t.Errorf("unexpected ids: channel=%q user=%q", ev.ChannelID, ev.UserID)
	}
	if ev.Topic == nil || *ev.Topic != "hello" {
		t.Errorf("expected topic hello, got %v", ev.Topic)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	f, err := Decode([]byte(`{"type":"presence","user_id":1}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	u, ok := f.(*Unknown)
	if !ok {
		t.Fatalf("expected *Unknown, got %T", f)
	}
	if TypeOf(u) != "presence" {
		t.Errorf("expected type presence, got %q", TypeOf(u))
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{`{"type":`, `not json`, `{"okay":true}`} {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Errorf("expected error decoding %q", raw)
		}
	}
}

func TestEncodeRequestStampsCmdAndReqID(t *testing.T) {
	data, err := EncodeRequest("req_7_100", JoinRequest{ChannelName: "general"})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal frame: %v", err)
	}
	if got["cmd"] != "join" {
		t.Errorf("expected cmd join, got %v", got["cmd"])
	}
	if got["req_id"] != "req_7_100" {
		t.Errorf("expected req_id req_7_100, got %v", got["req_id"])
	}
	if got["channel_name"] != "general" {
		t.Errorf("expected channel_name general, got %v", got["channel_name"])
	}
	if _, present := got["channel_id"]; present {
		t.Errorf("expected empty channel_id to be omitted: %s", data)
	}
}

func TestEncodeRequestWritesNumericIDsAsNumbers(t *testing.T) {
	data, err := EncodeRequest("r", ChannelUsersRequest{ChannelID: "12"})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	var got struct {
		ChannelID json.Number `json:"channel_id"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("expected numeric channel_id in %s: %v", data, err)
	}
	if got.ChannelID.String() != "12" {
		t.Errorf("expected 12, got %s", got.ChannelID)
	}
}

func TestEncodeEmptyRequest(t *testing.T) {
	data, err := EncodeRequest("hb", HeartbeatRequest{})
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}
	if string(data) != `{"cmd":"heartbeat","req_id":"hb"}` {
		t.Errorf("unexpected frame: %s", data)
	}
}

func TestIDIsZero(t *testing.T) {
	cases := map[ID]bool{"": true, "0": true, "12": false, "general": false}
	for id, want := range cases {
		if got := id.IsZero(); got != want {
			t.Errorf("ID(%q).IsZero() = %v, want %v", id, got, want)
		}
	}
}

func TestHistoryResultKeepsRawFrames(t *testing.T) {
	payload := []byte(`{"messages":[{"type":"message","channel_id":1,"user_id":2,"nickname":"a","message":"hi","is_passive":false,"sent_at":"2024-01-01T00:00:00Z"},{"type":"event","channel_id":1,"event":"joined","user_id":2,"nickname":"a","sent_at":"2024-01-01T00:00:00Z"}],"has_more":true}`)
	var res HistoryResult
	if err := json.Unmarshal(payload, &res); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(res.Messages) != 2 || !res.HasMore {
		t.Fatalf("unexpected result: %d messages, has_more=%v", len(res.Messages), res.HasMore)
	}
	f, err := res.Messages[1].Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, ok := f.(*ChatEvent); !ok {
		t.Errorf("expected *ChatEvent, got %T", f)
	}
}
