package slp

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"slpdexdb/internal/model"
)

// Config controls SLP classification and validation.
type Config struct {
	// TokenTypes lists the accepted token type versions.
	TokenTypes []uint8
	// CacheSize bounds the validator's token output cache.
	CacheSize int
}

// DefaultConfig accepts token type 1 only.
func DefaultConfig() Config {
	return Config{TokenTypes: []uint8{1}, CacheSize: 50000}
}

// Classifier performs the cheap syntactic first pass over raw entries.
type Classifier struct {
	cfg    Config
	logger *zap.Logger
}

func NewClassifier(cfg Config, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.TokenTypes) == 0 {
		cfg.TokenTypes = DefaultConfig().TokenTypes
	}
	return &Classifier{cfg: cfg, logger: logger}
}

// History classifies a batch of entries observed at ts.
func (c *Classifier) History(entries []model.TxEntry, ts time.Time) *model.TxHistory {
	history := &model.TxHistory{Txs: make([]model.Tx, 0, len(entries)), Timestamp: ts}
	for _, entry := range entries {
		history.Txs = append(history.Txs, c.Classify(entry))
	}
	return history
}

// Classify decodes scripts and tags the transaction SLP when its first output carries a
// well-formed SLP payload.
func (c *Classifier) Classify(entry model.TxEntry) model.Tx {
	tx := model.Tx{
		Hash:      entry.Hash,
		Height:    entry.Height,
		Confirmed: entry.Confirmed,
		Inputs:    make([]model.Input, 0, len(entry.Inputs)),
		Outputs:   make([]model.Output, 0, len(entry.Outputs)),
		Type:      model.TxType{Kind: model.TxDefault},
	}

	for _, in := range entry.Inputs {
		input := model.Input{PrevHash: in.PrevHash, PrevIndex: in.PrevIndex, Value: in.Value}
		if len(in.PrevScript) > 0 {
			input.Output = ClassifyScript(in.PrevScript)
		} else if addr, ok := AddressFromSigScript(in.SigScript); ok {
			input.Output = model.OutputType{Kind: model.OutputAddress, Address: addr}
		}
		tx.Inputs = append(tx.Inputs, input)
	}
	for _, out := range entry.Outputs {
		tx.Outputs = append(tx.Outputs, model.Output{Output: ClassifyScript(out.Script), Value: out.Value})
	}

	if len(entry.Outputs) == 0 {
		return tx
	}
	payload, err := ParsePayload(entry.Outputs[0].Script, c.cfg.TokenTypes)
	if err != nil {
		if !errors.Is(err, errNotSLP) {
			c.logger.Debug("slp payload rejected", zap.Stringer("tx_hash", entry.Hash), zap.Error(err))
		}
		return tx
	}
	if payload.Kind == model.SLPGenesis {
		payload.TokenID = entry.Hash
	}
	if !assignOutputs(&tx, payload) {
		c.logger.Debug("slp payload exceeds outputs", zap.Stringer("tx_hash", entry.Hash))
		return tx
	}
	tx.Type = model.TxType{Kind: model.TxSLP, SLP: payload}
	return tx
}

// assignOutputs tags outputs with the token values the payload assigns to them.
func assignOutputs(tx *model.Tx, payload *model.SLPPayload) bool {
	if len(payload.Amounts) > len(tx.Outputs)-1 && payload.Kind == model.SLPSend {
		return false
	}
	for vout := 1; vout < len(tx.Outputs); vout++ {
		if amount := payload.OutputAmount(vout); amount > 0 {
			tx.Outputs[vout].Token = &model.TokenAmount{TokenID: payload.TokenID, Amount: amount}
		}
	}
	if payload.MintBatonVout != model.NoBaton && payload.MintBatonVout < len(tx.Outputs) {
		vout := payload.MintBatonVout
		if tx.Outputs[vout].Token == nil {
			tx.Outputs[vout].Token = &model.TokenAmount{TokenID: payload.TokenID}
		}
		tx.Outputs[vout].Token.Baton = true
	}
	return true
}
