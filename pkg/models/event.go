package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrMalformedTx = errors.New("malformed transaction record")
)

// EventType represents the type of stream event
type EventType string

const (
	EventTypePendingTx  EventType = "pending_tx"
	EventTypeSubscribed EventType = "subscribed"
	EventTypeError      EventType = "error"
	EventTypeUnknown    EventType = "unknown"
)

// Event is a decoded frame received from the streaming feed
type Event struct {
	ID           string          `json:"id,omitempty"`
	Type         EventType       `json:"type"`
	Subscription string          `json:"subscription,omitempty"`
	Data         json.RawMessage `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
}

// RPCMessage is the JSON-RPC 2.0 envelope used by the pending transaction stream
type RPCMessage struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      json.RawMessage     `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Params  *SubscriptionParams `json:"params,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *RPCError           `json:"error,omitempty"`
}

// SubscriptionParams carries the payload of an eth_subscription notification
type SubscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// RPCError is a JSON-RPC error object
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ToEvent classifies an envelope. Notifications become pending tx events,
// responses carrying a string result are subscription acknowledgements.
func (m *RPCMessage) ToEvent() *Event {
	event := &Event{
		ID:        strings.Trim(string(m.ID), `"`),
		Type:      EventTypeUnknown,
		Timestamp: time.Now(),
	}

	switch {
	case m.Error != nil:
		event.Type = EventTypeError
		event.Data, _ = json.Marshal(m.Error)
	case m.Method == "eth_subscription" && m.Params != nil:
		event.Type = EventTypePendingTx
		event.Subscription = m.Params.Subscription
		event.Data = m.Params.Result
	case len(m.Result) > 0:
		var subID string
		if err := json.Unmarshal(m.Result, &subID); err == nil && subID != "" {
			event.Type = EventTypeSubscribed
			event.Subscription = subID
		}
		event.Data = m.Result
	}

	return event
}

// PendingTx is the subset of a pending transaction the alert listener needs
type PendingTx struct {
	Hash    string `json:"hash"`
	From    string `json:"from"`
	To      string `json:"to"`
	Value   string `json:"value,omitempty"`
	Nonce   string `json:"nonce,omitempty"`
	ChainID string `json:"chainId,omitempty"`
}

// ParsePendingTx decodes a transaction record. The hash and sender are required,
// the recipient is empty for contract creations.
func ParsePendingTx(data json.RawMessage) (*PendingTx, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedTx)
	}

	// hashesOnly subscriptions deliver a bare string
	if data[0] == '"' {
		return nil, fmt.Errorf("%w: hash-only payload", ErrMalformedTx)
	}

	var tx PendingTx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTx, err)
	}
	if tx.Hash == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrMalformedTx)
	}
	if tx.From == "" {
		return nil, fmt.Errorf("%w: missing from", ErrMalformedTx)
	}

	return &tx, nil
}

// ParsePendingTx decodes the transaction carried by a pending tx event
func (e *Event) ParsePendingTx() (*PendingTx, error) {
	if e.Type != EventTypePendingTx {
		return nil, fmt.Errorf("%w: event type %s", ErrMalformedTx, e.Type)
	}
	return ParsePendingTx(e.Data)
}

// ValueWei decodes the hex quantity in Value. Missing or invalid values are zero.
func (t *PendingTx) ValueWei() *big.Int {
	if t.Value == "" {
		return new(big.Int)
	}
	v, err := hexutil.DecodeBig(t.Value)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// ValueEther renders Value in ether with up to 6 decimals
func (t *PendingTx) ValueEther() string {
	wei := new(big.Float).SetInt(t.ValueWei())
	eth := new(big.Float).Quo(wei, big.NewFloat(1e18))
	s := eth.Text('f', 6)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
