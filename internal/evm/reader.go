package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/duomarket/duomarket/internal/model"
)

// ContractCaller is the slice of an RPC client the reader needs.
// *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// StateReader reads market snapshots from contract storage. It holds
// no state of its own; every read hits the chain.
type StateReader struct {
	caller ContractCaller
}

// NewStateReader creates a reader over any contract caller.
func NewStateReader(caller ContractCaller) (*StateReader, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	return &StateReader{caller: caller}, nil
}

// resolutionRecord matches the resolution tuple in getMarket's output.
type resolutionRecord struct {
	Outcome    uint8
	ResolvedAt uint64
}

// ReadMarket fetches the full market record at the latest block.
// Field positions follow the contract storage layout; see
// marketABIJSON.
func (r *StateReader) ReadMarket(ctx context.Context, addr common.Address) (*model.Market, error) {
	vals, err := r.call(ctx, addr, "getMarket")
	if err != nil {
		return nil, err
	}
	if len(vals) != 14 {
		return nil, fmt.Errorf("getMarket returned %d fields, want 14", len(vals))
	}

	m := &model.Market{Address: addr.Hex(), FetchedAt: time.Now().UTC()}

	yesToken, ok := vals[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("field 0 (yesToken): unexpected type %T", vals[0])
	}
	noToken, ok := vals[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("field 1 (noToken): unexpected type %T", vals[1])
	}
	m.YesToken = yesToken.Hex()
	m.NoToken = noToken.Hex()

	for i, dst := range map[int]**big.Int{
		2: &m.ReserveYes,
		3: &m.ReserveNo,
		4: &m.USDCVault,
		5: &m.TotalPairsUSDC,
		6: &m.VirtualOffset,
	} {
		v, ok := vals[i].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("field %d: unexpected type %T, want uint256", i, vals[i])
		}
		*dst = v
	}

	for i, dst := range map[int]*uint32{
		7: &m.FeeTreasuryBps,
		8: &m.FeeVaultBps,
		9: &m.FeeLpBps,
	} {
		v, ok := vals[i].(uint16)
		if !ok {
			return nil, fmt.Errorf("field %d: unexpected type %T, want uint16", i, vals[i])
		}
		*dst = uint32(v)
	}

	status, ok := vals[10].(uint8)
	if !ok {
		return nil, fmt.Errorf("field 10 (status): unexpected type %T", vals[10])
	}
	m.Status = model.MarketStatus(status)
	if !m.Status.IsValid() {
		return nil, fmt.Errorf("contract returned unknown status %d", status)
	}

	question, ok := vals[11].(string)
	if !ok {
		return nil, fmt.Errorf("field 11 (question): unexpected type %T", vals[11])
	}
	m.Question = question

	lpToken, ok := vals[12].(common.Address)
	if !ok {
		return nil, fmt.Errorf("field 12 (lpToken): unexpected type %T", vals[12])
	}
	m.LPToken = lpToken.Hex()

	// abi unpacks the tuple into a generated anonymous struct whose
	// fields carry json tags named after the components.
	raw, ok := vals[13].(struct {
		Outcome    uint8  `json:"outcome"`
		ResolvedAt uint64 `json:"resolvedAt"`
	})
	if !ok {
		return nil, fmt.Errorf("field 13 (resolution): unexpected type %T", vals[13])
	}
	res := resolutionRecord{Outcome: raw.Outcome, ResolvedAt: raw.ResolvedAt}
	switch res.Outcome {
	case ResolutionNone:
	case ResolutionYes:
		m.Resolution = model.OutcomeYes
	case ResolutionNo:
		m.Resolution = model.OutcomeNo
	default:
		return nil, fmt.Errorf("contract returned unknown resolution outcome %d", res.Outcome)
	}
	if res.ResolvedAt != 0 {
		t := time.Unix(int64(res.ResolvedAt), 0).UTC()
		m.ResolvedAt = &t
	}

	enabled, err := r.readSellFeesEnabled(ctx, addr)
	if err != nil {
		return nil, err
	}
	m.SellFeesEnabled = enabled

	return m, nil
}

func (r *StateReader) readSellFeesEnabled(ctx context.Context, addr common.Address) (bool, error) {
	vals, err := r.call(ctx, addr, "sellFeesEnabled")
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("sellFeesEnabled returned %d values, want 1", len(vals))
	}
	enabled, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("sellFeesEnabled: unexpected type %T", vals[0])
	}
	return enabled, nil
}

func (r *StateReader) call(ctx context.Context, addr common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := MarketABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s call returned no data (wrong address or not deployed)", method)
	}
	vals, err := MarketABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return vals, nil
}
