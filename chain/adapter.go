package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crossmirror/crosschain-indexer/config"
)

// Kind tags the finality model of a chain. Progressive chains advance blocks
// through confirmation tiers as the chain grows; instant chains finalize
// blocks the moment they are produced.
type Kind string

const (
	KindProgressive Kind = "progressive"
	KindInstant     Kind = "instant"
)

// Block is the normalized block shape every adapter produces regardless of
// the underlying chain's native format.
type Block struct {
	Height     int64
	Hash       string
	ParentHash string
	Timestamp  time.Time
}

// Event is a normalized on-chain event. RawData is opaque to the indexer,
// only the delivery engine interprets payloads for recognized event types.
type Event struct {
	EventID   string
	Height    int64
	BlockHash string
	TxHash    string
	Timestamp time.Time
	Type      string
	RawData   []byte
}

// FinalitySignals carries the externally reported finality heads of a
// progressive chain. A zero height means the chain does not report that tier.
type FinalitySignals struct {
	SafeHeight      int64
	JustifiedHeight int64
	FinalizedHeight int64
}

// ErrNoFinalitySignals is returned by adapters whose chain exposes no
// external finality signal. The finality tracker then falls back to the
// configured confirmation depth.
var ErrNoFinalitySignals = errors.New("chain does not report finality signals")

// Adapter is the per-chain-kind collaborator that talks to a node and
// normalizes its blocks and logs. Implementations live outside this module
// and register themselves through RegisterAdapter.
type Adapter interface {
	// FetchBlocks returns the canonical blocks in [startHeight, endHeight]
	// and every event they contain, ordered by height.
	FetchBlocks(ctx context.Context, startHeight, endHeight int64) ([]Block, []Event, error)

	// CurrentHead returns the chain's current head height.
	CurrentHead(ctx context.Context) (int64, error)

	// FinalitySignals returns the chain's reported finality heads, or
	// ErrNoFinalitySignals when the chain has none.
	FinalitySignals(ctx context.Context) (FinalitySignals, error)
}

// Factory builds an adapter for one configured chain.
type Factory func(conf config.ChainConfig) (Adapter, error)

var adapterFactories = map[Kind]Factory{}

// RegisterAdapter registers the adapter factory for a chain kind. Chain
// client packages call this from their init, the same way message type
// handlers register themselves at bootstrap.
func RegisterAdapter(kind Kind, factory Factory) {
	adapterFactories[kind] = factory
}

// NewAdapter builds the adapter for the given chain config, failing when no
// factory has been registered for its finality model.
func NewAdapter(conf config.ChainConfig) (Adapter, error) {
	factory, ok := adapterFactories[Kind(conf.FinalityModel)]
	if !ok {
		return nil, fmt.Errorf("no chain adapter registered for finality model %q (chain %s)", conf.FinalityModel, conf.ChainID)
	}
	return factory(conf)
}
