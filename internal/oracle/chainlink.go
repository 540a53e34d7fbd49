package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain round feed.
type ChainlinkOptions struct {
	RPCURL            string
	AggregatorAddress string
	// AnswerDecimals is the aggregator's decimals() value; the answer is
	// rescaled to whole index units before it reaches the engine.
	AnswerDecimals int32
	Timeout        time.Duration
}

// Chainlink reads the volatility index from an on-chain aggregator contract.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds an on-chain round feed.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "oracle_chainlink").Logger()}
}

// CurrentRound fetches latestRoundData from the aggregator.
func (c *Chainlink) CurrentRound(ctx context.Context) (Round, error) {
	if c.opts.RPCURL == "" {
		return Round{}, errors.New("oracle rpc url not configured")
	}
	if c.opts.AggregatorAddress == "" {
		return Round{}, errors.New("oracle aggregator address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Round{}, err
	}

	addr := common.HexToAddress(c.opts.AggregatorAddress)
	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Round{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Round{}, fmt.Errorf("call latestRoundData: %w", err)
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Round{}, fmt.Errorf("decode latestRoundData: %w", err)
	}
	if len(outputs) != 5 {
		return Round{}, errors.New("unexpected latestRoundData response shape")
	}

	roundID, ok := outputs[0].(*big.Int)
	if !ok {
		return Round{}, errors.New("failed to decode round id")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Round{}, errors.New("failed to decode answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Round{}, errors.New("failed to decode round timestamp")
	}

	price := decimal.NewFromBigInt(answer, -c.opts.AnswerDecimals)
	round := Round{
		Price:     price.IntPart(),
		RoundID:   roundID.Uint64(),
		Timestamp: updatedAt.Int64(),
	}

	c.logger.Debug().
		Uint64("round_id", round.RoundID).
		Int64("price", round.Price).
		Int64("round_ts", round.Timestamp).
		Msg("oracle round fetched")

	return round, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ RoundFeed = (*Chainlink)(nil)
