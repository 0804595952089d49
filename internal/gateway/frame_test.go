package gateway

import "testing"

func TestValidateInboundFrameAcceptsPing(t *testing.T) {
	raw := []byte(`{"type":"ping"}`)
	var frame inboundFrame
	frame.Type = "ping"
	if err := validateInboundFrame(raw, &frame); err != nil {
		t.Fatalf("validateInboundFrame(ping) error = %v", err)
	}
}

func TestValidateInboundFrameAcceptsCancel(t *testing.T) {
	raw := []byte(`{"type":"cancel","session_id":"chat-123"}`)
	var frame inboundFrame
	frame.Type = "cancel"
	frame.SessionID = "chat-123"
	if err := validateInboundFrame(raw, &frame); err != nil {
		t.Fatalf("validateInboundFrame(cancel) error = %v", err)
	}
}

func TestValidateInboundFrameRejectsCancelMissingSessionID(t *testing.T) {
	raw := []byte(`{"type":"cancel"}`)
	var frame inboundFrame
	frame.Type = "cancel"
	if err := validateInboundFrame(raw, &frame); err == nil {
		t.Fatal("validateInboundFrame(cancel without session_id) = nil error, want failure")
	}
}

func TestValidateInboundFrameAcceptsChat(t *testing.T) {
	raw := []byte(`{"type":"chat","data":{"message":"hi","provider":"ollama"}}`)
	var frame inboundFrame
	frame.Type = "chat"
	frame.Data = []byte(`{"message":"hi","provider":"ollama"}`)
	if err := validateInboundFrame(raw, &frame); err != nil {
		t.Fatalf("validateInboundFrame(chat) error = %v", err)
	}
}

func TestValidateInboundFrameRejectsChatMissingMessage(t *testing.T) {
	raw := []byte(`{"type":"chat","data":{"provider":"ollama"}}`)
	var frame inboundFrame
	frame.Type = "chat"
	frame.Data = []byte(`{"provider":"ollama"}`)
	if err := validateInboundFrame(raw, &frame); err == nil {
		t.Fatal("validateInboundFrame(chat without message) = nil error, want failure")
	}
}

func TestValidateInboundFrameRejectsUnknownProvider(t *testing.T) {
	raw := []byte(`{"type":"chat","data":{"message":"hi","provider":"bogus"}}`)
	var frame inboundFrame
	frame.Type = "chat"
	frame.Data = []byte(`{"message":"hi","provider":"bogus"}`)
	if err := validateInboundFrame(raw, &frame); err == nil {
		t.Fatal("validateInboundFrame(chat with unknown provider) = nil error, want failure")
	}
}

func TestValidateInboundFrameRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"type":"bogus"}`)
	var frame inboundFrame
	frame.Type = "bogus"
	if err := validateInboundFrame(raw, &frame); err == nil {
		t.Fatal("validateInboundFrame(unknown type) = nil error, want failure")
	}
}
