package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"slpdexdb/internal/model"
	"slpdexdb/internal/slp"
	"slpdexdb/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

var _ storage.Storage = (*Store)(nil)

// Store provides Postgres persistence for the sync core.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger reports rows that are skipped while reading.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", model.ErrStorage, op, err)
}

func hashFromBytes(b []byte) (chainhash.Hash, error) {
	var h chainhash.Hash
	if err := h.SetBytes(b); err != nil {
		return h, err
	}
	return h, nil
}

func hashesToBytes(hashes []chainhash.Hash) [][]byte {
	out := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, h.CloneBytes())
	}
	return out
}

func nullableAddress(o model.OutputType) []byte {
	if addr, ok := o.AddressOf(); ok {
		return addr.Bytes()
	}
	return nil
}

// AddTokens inserts or updates token definitions.
func (s *Store) AddTokens(ctx context.Context, tokens []model.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, token := range tokens {
		batch.Queue(`
			INSERT INTO token (
				id, version, ticker, name, document_uri, document_hash, decimals, mint_baton_vout, initial_supply, height, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
			ON CONFLICT (id)
			DO UPDATE SET
				version = EXCLUDED.version,
				ticker = EXCLUDED.ticker,
				name = EXCLUDED.name,
				document_uri = EXCLUDED.document_uri,
				document_hash = EXCLUDED.document_hash,
				decimals = EXCLUDED.decimals,
				mint_baton_vout = EXCLUDED.mint_baton_vout,
				initial_supply = EXCLUDED.initial_supply,
				height = EXCLUDED.height,
				updated_at = now()
		`,
			token.ID.CloneBytes(),
			token.Version,
			token.Ticker,
			token.Name,
			token.DocumentURI,
			token.DocumentHash,
			int16(token.Decimals),
			token.MintBatonVout,
			token.InitialSupply.String(),
			token.Height,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range tokens {
		if _, err := br.Exec(); err != nil {
			return storageErr("upsert tokens", err)
		}
	}
	return nil
}

// Tokens returns the stored definitions among ids.
func (s *Store) Tokens(ctx context.Context, ids []chainhash.Hash) ([]model.Token, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, version, ticker, name, document_uri, document_hash, decimals, mint_baton_vout, initial_supply::text, height
		FROM token WHERE id = ANY($1) ORDER BY height, id
	`, hashesToBytes(ids))
	if err != nil {
		return nil, storageErr("query tokens", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		var (
			id       []byte
			decimals int16
			supply   string
			token    model.Token
		)
		if err := rows.Scan(&id, &token.Version, &token.Ticker, &token.Name, &token.DocumentURI, &token.DocumentHash,
			&decimals, &token.MintBatonVout, &supply, &token.Height); err != nil {
			return nil, storageErr("scan token", err)
		}
		if token.ID, err = hashFromBytes(id); err != nil {
			return nil, storageErr("scan token", err)
		}
		if token.InitialSupply, err = decimal.NewFromString(supply); err != nil {
			return nil, storageErr("scan token", err)
		}
		token.Decimals = uint8(decimals)
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query tokens", err)
	}
	return tokens, nil
}

// AddTxHistory upserts a batch of transactions with their inputs and outputs in one transaction.
// A transaction seen again (for example once it confirms) replaces its previous rows.
func (s *Store) AddTxHistory(ctx context.Context, history *model.TxHistory) error {
	if history.Len() == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(dbTx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range history.Txs {
			queueTx(batch, &history.Txs[i], history.Timestamp)
		}
		br := dbTx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return err
			}
		}
		return br.Close()
	})
	if err != nil {
		return storageErr("add tx history", err)
	}
	return nil
}

func queueTx(batch *pgx.Batch, tx *model.Tx, seenAt time.Time) {
	var (
		slpKind *int16
		tokenID []byte
	)
	if tx.Type.IsSLP() {
		kind := int16(tx.Type.SLP.Kind)
		slpKind = &kind
		tokenID = tx.Type.SLP.TokenID.CloneBytes()
	}
	hash := tx.Hash.CloneBytes()
	batch.Queue(`
		INSERT INTO tx (hash, height, confirmed, tx_type, slp_kind, token_id, seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (hash)
		DO UPDATE SET
			height = EXCLUDED.height,
			confirmed = EXCLUDED.confirmed,
			tx_type = EXCLUDED.tx_type,
			slp_kind = EXCLUDED.slp_kind,
			token_id = EXCLUDED.token_id,
			updated_at = now()
	`, hash, tx.Height, tx.Confirmed, int16(tx.Type.Kind), slpKind, tokenID, seenAt)

	batch.Queue(`DELETE FROM tx_output WHERE tx_hash = $1`, hash)
	batch.Queue(`DELETE FROM tx_input WHERE tx_hash = $1`, hash)
	for vout, output := range tx.Outputs {
		var (
			tokenID []byte
			amount  *string
			baton   bool
		)
		if output.Token != nil {
			tokenID = output.Token.TokenID.CloneBytes()
			value := strconv.FormatUint(output.Token.Amount, 10)
			amount = &value
			baton = output.Token.Baton
		}
		batch.Queue(`
			INSERT INTO tx_output (tx_hash, vout, value, address, script, token_id, token_amount, baton)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
		`, hash, vout, output.Value, nullableAddress(output.Output), output.Output.Script, tokenID, amount, baton)
	}
	for vin, input := range tx.Inputs {
		batch.Queue(`
			INSERT INTO tx_input (tx_hash, vin, prev_hash, prev_index, address, value)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, hash, vin, input.PrevHash.CloneBytes(), int64(input.PrevIndex), nullableAddress(input.Output), input.Value)
	}
}

// TokenOutputs returns the token values of the given stored outputs. Outputs without a token
// value, or not stored, are absent from the result.
func (s *Store) TokenOutputs(ctx context.Context, outpoints []model.OutPoint) (map[model.OutPoint]model.TokenAmount, error) {
	out := make(map[model.OutPoint]model.TokenAmount)
	if len(outpoints) == 0 {
		return out, nil
	}
	hashes := make([][]byte, 0, len(outpoints))
	indexes := make([]int32, 0, len(outpoints))
	for _, op := range outpoints {
		hashes = append(hashes, op.Hash.CloneBytes())
		indexes = append(indexes, int32(op.Index))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT o.tx_hash, o.vout, o.token_id, COALESCE(o.token_amount, 0)::text, o.baton
		FROM tx_output o
		JOIN unnest($1::bytea[], $2::int[]) AS q(tx_hash, vout)
			ON o.tx_hash = q.tx_hash AND o.vout = q.vout
		JOIN tx t ON t.hash = o.tx_hash
		WHERE o.token_id IS NOT NULL AND t.tx_type = $3
	`, hashes, indexes, int16(model.TxSLP))
	if err != nil {
		return nil, storageErr("query token outputs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			txHash, tokenID []byte
			vout            int32
			amount          string
			baton           bool
		)
		if err := rows.Scan(&txHash, &vout, &tokenID, &amount, &baton); err != nil {
			return nil, storageErr("scan token output", err)
		}
		hash, err := hashFromBytes(txHash)
		if err != nil {
			return nil, storageErr("scan token output", err)
		}
		id, err := hashFromBytes(tokenID)
		if err != nil {
			return nil, storageErr("scan token output", err)
		}
		value, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, storageErr("scan token output", err)
		}
		out[model.OutPoint{Hash: hash, Index: uint32(vout)}] = model.TokenAmount{TokenID: id, Amount: value, Baton: baton}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query token outputs", err)
	}
	return out, nil
}

// LastUpdate returns the checkpoint of subject, if one was recorded.
func (s *Store) LastUpdate(ctx context.Context, subject model.Subject) (model.Checkpoint, bool, error) {
	var (
		lastHashes [][]byte
		cp         = model.Checkpoint{Subject: subject}
	)
	row := s.pool.QueryRow(ctx, `
		SELECT last_height, last_hashes, tip_height, completed_at FROM update_history WHERE subject_key = $1
	`, subject.Key())
	if err := row.Scan(&cp.LastHeight, &lastHashes, &cp.TipHeight, &cp.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.InitialCheckpoint(subject), false, nil
		}
		return model.Checkpoint{}, false, storageErr("load checkpoint", err)
	}
	for _, b := range lastHashes {
		hash, err := hashFromBytes(b)
		if err != nil {
			return model.Checkpoint{}, false, storageErr("load checkpoint", err)
		}
		cp.LastHashes = append(cp.LastHashes, hash)
	}
	return cp, true, nil
}

// AddUpdateHistory upserts the checkpoint of its subject.
func (s *Store) AddUpdateHistory(ctx context.Context, cp model.Checkpoint) error {
	if err := cp.Subject.Validate(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO update_history (subject_key, subject_type, scope_key, confirmed, last_height, last_hashes, tip_height, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_key) DO UPDATE
		SET last_height = EXCLUDED.last_height,
			last_hashes = EXCLUDED.last_hashes,
			tip_height = EXCLUDED.tip_height,
			completed_at = EXCLUDED.completed_at
	`, cp.Subject.Key(), int16(cp.Subject.Type), cp.Subject.ScopeKey, cp.Subject.Confirmed,
		cp.LastHeight, hashesToBytes(cp.LastHashes), cp.TipHeight, cp.Timestamp)
	if err != nil {
		return storageErr("save checkpoint", err)
	}
	return nil
}

// HeaderTip returns the highest stored header.
func (s *Store) HeaderTip(ctx context.Context) (model.Header, bool, error) {
	var (
		hash, prev []byte
		header     model.Header
	)
	row := s.pool.QueryRow(ctx, `SELECT hash, prev_hash, height, block_time FROM header ORDER BY height DESC LIMIT 1`)
	if err := row.Scan(&hash, &prev, &header.Height, &header.Time); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Header{}, false, nil
		}
		return model.Header{}, false, storageErr("load header tip", err)
	}
	var err error
	if header.Hash, err = hashFromBytes(hash); err != nil {
		return model.Header{}, false, storageErr("load header tip", err)
	}
	if header.PrevHash, err = hashFromBytes(prev); err != nil {
		return model.Header{}, false, storageErr("load header tip", err)
	}
	return header, true, nil
}

// AddHeader inserts a block header.
func (s *Store) AddHeader(ctx context.Context, header model.Header) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO header (hash, prev_hash, height, block_time) VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO UPDATE SET height = EXCLUDED.height, block_time = EXCLUDED.block_time
	`, header.Hash.CloneBytes(), header.PrevHash.CloneBytes(), header.Height, header.Time)
	if err != nil {
		return storageErr("add header", err)
	}
	return nil
}

// UpdateUTXOSet recomputes the unspent outputs paying to addr.
func (s *Store) UpdateUTXOSet(ctx context.Context, addr model.Address) error {
	key := addr.Bytes()
	err := pgx.BeginFunc(ctx, s.pool, func(dbTx pgx.Tx) error {
		if _, err := dbTx.Exec(ctx, `DELETE FROM utxo_address WHERE address = $1`, key); err != nil {
			return err
		}
		_, err := dbTx.Exec(ctx, `
			INSERT INTO utxo_address (address, tx_hash, vout)
			SELECT o.address, o.tx_hash, o.vout
			FROM tx_output o
			WHERE o.address = $1
				AND NOT EXISTS (
					SELECT 1 FROM tx_input i WHERE i.prev_hash = o.tx_hash AND i.prev_index = o.vout
				)
		`, key)
		return err
	})
	if err != nil {
		return storageErr("update utxo set", err)
	}
	return nil
}

// UpdateExchangeUTXOSet recomputes the unspent outputs of exchange offer transactions.
func (s *Store) UpdateExchangeUTXOSet(ctx context.Context) error {
	prefix := append([]byte{0x6a, byte(len(slp.ExchangeLokadID))}, slp.ExchangeLokadID...)
	err := pgx.BeginFunc(ctx, s.pool, func(dbTx pgx.Tx) error {
		if _, err := dbTx.Exec(ctx, `DELETE FROM utxo_exchange`); err != nil {
			return err
		}
		_, err := dbTx.Exec(ctx, `
			INSERT INTO utxo_exchange (tx_hash, vout)
			SELECT o.tx_hash, o.vout
			FROM tx_output o
			JOIN tx_output r ON r.tx_hash = o.tx_hash AND r.vout = 0
			WHERE substring(r.script FROM 1 FOR $2) = $1
				AND o.address IS NOT NULL
				AND NOT EXISTS (
					SELECT 1 FROM tx_input i WHERE i.prev_hash = o.tx_hash AND i.prev_index = o.vout
				)
		`, prefix, len(prefix))
		return err
	})
	if err != nil {
		return storageErr("update exchange utxo set", err)
	}
	return nil
}

// PendingActivations returns the unresolved activation requests.
func (s *Store) PendingActivations(ctx context.Context) ([]model.PendingActivation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, parent_a, parent_b, trigger_tx FROM pending_activation WHERE NOT resolved ORDER BY id
	`)
	if err != nil {
		return nil, storageErr("query pending activations", err)
	}
	defer rows.Close()

	var pending []model.PendingActivation
	for rows.Next() {
		var (
			p       model.PendingActivation
			trigger []byte
		)
		if err := rows.Scan(&p.ID, &p.ParentA, &p.ParentB, &trigger); err != nil {
			return nil, storageErr("scan pending activation", err)
		}
		if p.TriggerTx, err = hashFromBytes(trigger); err != nil {
			return nil, storageErr("scan pending activation", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query pending activations", err)
	}
	return pending, nil
}

// AddPendingActivation records an activation request.
func (s *Store) AddPendingActivation(ctx context.Context, p model.PendingActivation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_activation (id, parent_a, parent_b, trigger_tx) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.ParentA, p.ParentB, p.TriggerTx.CloneBytes())
	if err != nil {
		return storageErr("add pending activation", err)
	}
	return nil
}

// EntitiesByIDs loads the stored entities among ids in one query. Rows that do not decode are
// logged and left out, so callers see them as missing.
func (s *Store) EntitiesByIDs(ctx context.Context, ids []int64) (map[int64]model.Entity, error) {
	out := make(map[int64]model.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, attributes, tx_hash FROM entity WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, storageErr("query entities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id          int64
			attrs, hash []byte
		)
		if err := rows.Scan(&id, &attrs, &hash); err != nil {
			return nil, storageErr("scan entity", err)
		}
		e, err := entityFromRow(id, attrs, hash)
		if err != nil {
			s.logger.Error("skip malformed entity", zap.Int64("entity_id", id), zap.Error(err))
			continue
		}
		out[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query entities", err)
	}
	return out, nil
}

func entityFromRow(id int64, attrs, hash []byte) (model.Entity, error) {
	e := model.Entity{ID: id}
	if len(attrs) != model.AttributeSize {
		return e, fmt.Errorf("%w: entity %d has %d attribute bytes", model.ErrConsistency, id, len(attrs))
	}
	copy(e.Attributes[:], attrs)
	txHash, err := hashFromBytes(hash)
	if err != nil {
		return e, fmt.Errorf("%w: entity %d tx hash: %w", model.ErrConsistency, id, err)
	}
	e.TxHash = txHash
	return e, nil
}

// AddEntity inserts or replaces an entity.
func (s *Store) AddEntity(ctx context.Context, e model.Entity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity (id, attributes, tx_hash) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET attributes = EXCLUDED.attributes, tx_hash = EXCLUDED.tx_hash
	`, e.ID, e.Attributes[:], e.TxHash.CloneBytes())
	if err != nil {
		return storageErr("add entity", err)
	}
	return nil
}

// AddActivatedEntity records an activation outcome and resolves its pending request atomically.
func (s *Store) AddActivatedEntity(ctx context.Context, a model.ActivatedEntity) error {
	err := pgx.BeginFunc(ctx, s.pool, func(dbTx pgx.Tx) error {
		if _, err := dbTx.Exec(ctx, `
			INSERT INTO activated_entity (pending_id, parent_a, parent_b, trigger_tx, block_hash, seed, attributes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (pending_id) DO UPDATE
			SET block_hash = EXCLUDED.block_hash, seed = EXCLUDED.seed, attributes = EXCLUDED.attributes
		`, a.PendingID, a.ParentA, a.ParentB, a.TriggerTx.CloneBytes(), a.BlockHash.CloneBytes(), a.Seed[:], a.Attributes[:]); err != nil {
			return err
		}
		_, err := dbTx.Exec(ctx, `UPDATE pending_activation SET resolved = true WHERE id = $1`, a.PendingID)
		return err
	})
	if err != nil {
		return storageErr("add activated entity", err)
	}
	return nil
}
