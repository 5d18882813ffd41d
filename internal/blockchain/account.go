package blockchain

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"
)

// Wire shapes shared by getAccountInfo responses and accountNotification
// pushes: {"context":{"slot":N},"value":{...}}.
type rpcAccount struct {
	Data       []string `json:"data"` // [payload, encoding]
	Executable bool     `json:"executable"`
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
}

type rpcAccountResult struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *rpcAccount `json:"value"`
}

// ParseAccountResult decodes an RpcResponse<Account> body. Binary payloads
// stay encoded; decoding them is the caller's concern.
func ParseAccountResult(raw []byte) (*AccountInfo, error) {
	var res rpcAccountResult
	if err := sonnet.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("malformed account result: %w", err)
	}
	return res.info()
}

func (r *rpcAccountResult) info() (*AccountInfo, error) {
	if r.Value == nil {
		return nil, ErrAccountNotFound
	}
	if len(r.Value.Data) != 2 {
		return nil, fmt.Errorf("account data must be [payload, encoding], got %d elements", len(r.Value.Data))
	}
	owner, err := ParsePublicKey(r.Value.Owner)
	if err != nil {
		return nil, fmt.Errorf("account owner: %w", err)
	}
	return &AccountInfo{
		Slot:       r.Context.Slot,
		Lamports:   r.Value.Lamports,
		Owner:      owner,
		Executable: r.Value.Executable,
		Data:       r.Value.Data[0],
		Encoding:   r.Value.Data[1],
	}, nil
}
