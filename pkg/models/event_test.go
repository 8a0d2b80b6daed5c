package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestRPCMessageToEvent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType EventType
		wantSub  string
	}{
		{
			name:     "subscription ack",
			raw:      `{"jsonrpc":"2.0","id":1,"result":"0xcd0c3e8af590364c09d0fa6a1210faf5"}`,
			wantType: EventTypeSubscribed,
			wantSub:  "0xcd0c3e8af590364c09d0fa6a1210faf5",
		},
		{
			name:     "pending tx notification",
			raw:      `{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xabc","result":{"hash":"0x1","from":"0x2","to":"0x3"}}}`,
			wantType: EventTypePendingTx,
			wantSub:  "0xabc",
		},
		{
			name:     "rpc error",
			raw:      `{"jsonrpc":"2.0","id":2,"error":{"code":-32602,"message":"invalid params"}}`,
			wantType: EventTypeError,
		},
		{
			name:     "unsubscribe ack",
			raw:      `{"jsonrpc":"2.0","id":3,"result":true}`,
			wantType: EventTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg RPCMessage
			if err := json.Unmarshal([]byte(tt.raw), &msg); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			event := msg.ToEvent()
			if event.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, event.Type)
			}
			if event.Subscription != tt.wantSub {
				t.Errorf("expected subscription %q, got %q", tt.wantSub, event.Subscription)
			}
		})
	}
}

func TestParsePendingTx(t *testing.T) {
	tx, err := ParsePendingTx(json.RawMessage(`{"hash":"0xdead","from":"0xAAAA","to":"0xBBBB","value":"0xde0b6b3a7640000"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.Hash != "0xdead" || tx.From != "0xAAAA" || tx.To != "0xBBBB" {
		t.Errorf("unexpected tx: %+v", tx)
	}
	if got := tx.ValueEther(); got != "1" {
		t.Errorf("expected 1 ether, got %s", got)
	}
}

func TestParsePendingTxMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ``},
		{"null", `null`},
		{"hash only", `"0xdead"`},
		{"not json", `{hash`},
		{"missing hash", `{"from":"0x1","to":"0x2"}`},
		{"missing from", `{"hash":"0x1","to":"0x2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePendingTx(json.RawMessage(tt.raw))
			if !errors.Is(err, ErrMalformedTx) {
				t.Errorf("expected ErrMalformedTx, got %v", err)
			}
		})
	}
}

func TestPendingTxContractCreation(t *testing.T) {
	tx, err := ParsePendingTx(json.RawMessage(`{"hash":"0x1","from":"0x2","to":null}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.To != "" {
		t.Errorf("expected empty recipient, got %q", tx.To)
	}
}

func TestPendingTxValueEther(t *testing.T) {
	tests := []struct {
		value    string
		expected string
	}{
		{"", "0"},
		{"0x0", "0"},
		{"garbage", "0"},
		{"0x14d1120d7b160000", "1.5"},
		{"0x8ac7230489e80000", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			tx := &PendingTx{Value: tt.value}
			if got := tx.ValueEther(); got != tt.expected {
				t.Errorf("ValueEther(%q) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}

func TestEventParsePendingTxWrongType(t *testing.T) {
	event := &Event{Type: EventTypeSubscribed, Data: json.RawMessage(`"0x1"`)}
	if _, err := event.ParsePendingTx(); !errors.Is(err, ErrMalformedTx) {
		t.Errorf("expected ErrMalformedTx, got %v", err)
	}
}
