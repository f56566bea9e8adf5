package lsp

import "encoding/json"

// Request represents an outbound JSON-RPC request or notification.
// A zero ID marks a notification; request ids start at 1.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response represents an outbound JSON-RPC response. The client only sends
// these to refuse server-to-client requests it does not implement.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Message is the inbound envelope. One struct covers responses,
// notifications and server-to-client requests; the Is* helpers classify it.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// IsResponse reports whether the message answers a request we sent.
func (m *Message) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// IsNotification reports whether the message is a server notification.
func (m *Message) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// IsServerRequest reports whether the server expects a response from us.
func (m *Message) IsServerRequest() bool {
	return m.ID != nil && m.Method != ""
}

// cancelParams is the payload of $/cancelRequest.
type cancelParams struct {
	ID int64 `json:"id"`
}
