package session

import "encoding/json"

// The app server is driven with exactly two JSON-RPC calls per execution:
// initialize (id 1), then execOneOffCommand (id 2). The execution call id is
// how the final result is recognized on the way back out.
const (
	initializeRequestID = 1
	execRequestID       = 2

	methodInitialize  = "initialize"
	methodExecOneOff  = "execOneOffCommand"
	methodProgress    = "task/progress"
	sandboxFullAccess = "DangerFullAccess"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ClientInfo clientInfo `json:"clientInfo"`
}

type execParams struct {
	Command       []string `json:"command"`
	TimeoutMS     int64    `json:"timeoutMs"`
	SandboxPolicy string   `json:"sandboxPolicy"`
}

func initializeRequest() rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      initializeRequestID,
		Method:  methodInitialize,
		Params:  initializeParams{ClientInfo: clientInfo{Name: "codexgate", Version: "1.0.0"}},
	}
}

func execOneOffRequest(prompt string, timeoutMS int64) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      execRequestID,
		Method:  methodExecOneOff,
		Params: execParams{
			Command:       []string{prompt},
			TimeoutMS:     timeoutMS,
			SandboxPolicy: sandboxFullAccess,
		},
	}
}

// rpcMessage is the loose shape used to peek at the app server's stdout
// lines. ID and Result stay raw so the result payload is passed through
// verbatim and non-integer ids don't fail the whole parse.
type rpcMessage struct {
	Method string          `json:"method"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
}

func (m *rpcMessage) idEquals(id int64) bool {
	if len(m.ID) == 0 {
		return false
	}
	var got int64
	if err := json.Unmarshal(m.ID, &got); err != nil {
		return false
	}
	return got == id
}
