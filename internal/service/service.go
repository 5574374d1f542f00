// Package service wires the resync, processor and activation actors to the ledger feeds.
package service

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"slpdexdb/internal/activation"
	"slpdexdb/internal/actor"
	"slpdexdb/internal/chain"
	"slpdexdb/internal/metrics"
	"slpdexdb/internal/model"
	"slpdexdb/internal/notify"
	"slpdexdb/internal/processor"
	"slpdexdb/internal/resync"
	"slpdexdb/internal/subscribers"
)

// Feeds delivers live transactions and blocks.
type Feeds interface {
	SubscribeTransactions(ctx context.Context, ch chan<- model.TxEntry) (chain.Subscription, error)
	SubscribeBlocks(ctx context.Context, ch chan<- chain.Block) (chain.Subscription, error)
}

// HeaderStore records connected block headers.
type HeaderStore interface {
	AddHeader(ctx context.Context, header model.Header) error
}

// Config controls actor sizing and startup work.
type Config struct {
	MailboxSize    int
	FeedBuffer     int
	BootstrapToken string
	// ResyncTokensOnStart and ResyncExchangeOnStart queue a full resync after bootstrap.
	ResyncTokensOnStart   bool
	ResyncExchangeOnStart bool
}

// Deps are the components the service drives.
type Deps struct {
	Loop        *resync.Loop
	Processor   *processor.Processor
	Activation  *activation.Processor
	Headers     HeaderStore
	Registry    *subscribers.Registry
	Broadcaster *notify.Broadcaster
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Service owns one actor per pipeline. Each actor serializes access to its component, so the
// loop, processor and activation processor are never entered concurrently.
type Service struct {
	cfg            Config
	bootstrapToken *chainhash.Hash

	loop        *resync.Loop
	proc        *processor.Processor
	act         *activation.Processor
	headers     HeaderStore
	registry    *subscribers.Registry
	broadcaster *notify.Broadcaster
	logger      *zap.Logger

	resyncActor     *actor.Actor
	processorActor  *actor.Actor
	activationActor *actor.Actor
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Loop == nil {
		return nil, fmt.Errorf("resync loop is nil")
	}
	if deps.Processor == nil {
		return nil, fmt.Errorf("processor is nil")
	}
	if deps.Activation == nil {
		return nil, fmt.Errorf("activation processor is nil")
	}
	if deps.Headers == nil {
		return nil, fmt.Errorf("header store is nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("subscriber registry is nil")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = 16
	}

	s := &Service{
		cfg:             cfg,
		loop:            deps.Loop,
		proc:            deps.Processor,
		act:             deps.Activation,
		headers:         deps.Headers,
		registry:        deps.Registry,
		broadcaster:     deps.Broadcaster,
		logger:          deps.Logger,
		resyncActor:     actor.New("resync", cfg.MailboxSize, deps.Metrics, deps.Logger),
		processorActor:  actor.New("processor", cfg.MailboxSize, deps.Metrics, deps.Logger),
		activationActor: actor.New("activation", cfg.MailboxSize, deps.Metrics, deps.Logger),
	}
	if cfg.BootstrapToken != "" {
		hash, err := chainhash.NewHashFromStr(cfg.BootstrapToken)
		if err != nil {
			return nil, fmt.Errorf("parse bootstrap token: %w", err)
		}
		s.bootstrapToken = hash
	}
	return s, nil
}

// Start launches the actors. The resync actor bootstraps before taking any message; failures
// there are logged and the actor keeps serving.
func (s *Service) Start(ctx context.Context) {
	s.resyncActor.Start(ctx, s.startup)
	s.processorActor.Start(ctx, nil)
	s.activationActor.Start(ctx, nil)
}

// Stop stops the actors and waits for pending notifications.
func (s *Service) Stop() {
	s.resyncActor.Stop()
	s.processorActor.Stop()
	s.activationActor.Stop()
	if s.broadcaster != nil {
		s.broadcaster.Close()
	}
}

func (s *Service) startup(ctx context.Context) error {
	if s.bootstrapToken != nil {
		if err := s.loop.Bootstrap(ctx, *s.bootstrapToken); err != nil {
			s.logger.Error("bootstrap failed", zap.Stringer("token_id", s.bootstrapToken), zap.Error(err))
		}
	}
	if s.cfg.ResyncTokensOnStart {
		if _, err := s.loop.ResyncTokens(ctx); err != nil {
			s.logger.Error("startup token resync failed", zap.Error(err))
		}
	}
	if s.cfg.ResyncExchangeOnStart {
		if _, err := s.loop.ResyncExchange(ctx); err != nil {
			s.logger.Error("startup exchange resync failed", zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers addr for notifications and queues a resync of its history.
func (s *Service) Subscribe(ctx context.Context, addr model.Address) (subscribers.Subscriber, error) {
	sub := s.registry.Subscribe(addr)
	err := s.resyncActor.Tell(ctx, "resync address "+addr.String(), func(ctx context.Context) error {
		_, err := s.loop.ResyncAddress(ctx, addr)
		return err
	})
	if err != nil {
		return sub, fmt.Errorf("queue address resync: %w", err)
	}
	s.logger.Info("subscribed", zap.Stringer("address", addr), zap.Stringer("subscriber_id", sub.ID))
	return sub, nil
}

// Unsubscribe removes a subscription.
func (s *Service) Unsubscribe(id uuid.UUID) bool {
	return s.registry.Unsubscribe(id)
}

// Resync runs subject to completion on the resync actor and returns the number of items synced.
func (s *Service) Resync(ctx context.Context, subject model.Subject) (int, error) {
	return actor.AskValue(ctx, s.resyncActor, func(ctx context.Context) (int, error) {
		return s.loop.Run(ctx, subject)
	})
}

// ProcessTransactions runs a live batch through the processor actor and waits for the outcome.
func (s *Service) ProcessTransactions(ctx context.Context, entries []model.TxEntry) (processor.Outcome, error) {
	return actor.AskValue(ctx, s.processorActor, func(ctx context.Context) (processor.Outcome, error) {
		return s.proc.Process(ctx, entries)
	})
}

// ProcessBlock records the header and resolves the activations it triggers.
func (s *Service) ProcessBlock(ctx context.Context, block chain.Block) (activation.Result, error) {
	return actor.AskValue(ctx, s.activationActor, func(ctx context.Context) (activation.Result, error) {
		if err := s.headers.AddHeader(ctx, block.Header); err != nil {
			return activation.Result{BlockHash: block.Header.Hash}, err
		}
		return s.act.ProcessBlock(ctx, block.Header, block.TxHashes)
	})
}

// RunFeeds forwards live transactions and blocks to the actors until ctx ends or a feed fails.
func (s *Service) RunFeeds(ctx context.Context, feeds Feeds) error {
	txs := make(chan model.TxEntry, s.cfg.FeedBuffer)
	txSub, err := feeds.SubscribeTransactions(ctx, txs)
	if err != nil {
		return err
	}
	defer txSub.Unsubscribe()

	blocks := make(chan chain.Block, s.cfg.FeedBuffer)
	blockSub, err := feeds.SubscribeBlocks(ctx, blocks)
	if err != nil {
		return err
	}
	defer blockSub.Unsubscribe()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return pump(ctx, txs, txSub, func(entry model.TxEntry) error {
			return s.processorActor.Tell(ctx, "process "+entry.Hash.String(), func(ctx context.Context) error {
				_, err := s.proc.Process(ctx, []model.TxEntry{entry})
				return err
			})
		})
	})
	p.Go(func(ctx context.Context) error {
		return pump(ctx, blocks, blockSub, func(block chain.Block) error {
			return s.activationActor.Tell(ctx, "block "+block.Header.Hash.String(), func(ctx context.Context) error {
				if err := s.headers.AddHeader(ctx, block.Header); err != nil {
					return err
				}
				res, err := s.act.ProcessBlock(ctx, block.Header, block.TxHashes)
				if err != nil {
					return err
				}
				return res.Err()
			})
		})
	})
	err = p.Wait()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func pump[T any](ctx context.Context, in <-chan T, sub chain.Subscription, handle func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return fmt.Errorf("%w: feed ended", model.ErrSource)
			}
			return err
		case v := <-in:
			if err := handle(v); err != nil {
				return err
			}
		}
	}
}

// Health reports whether the actors are still accepting messages.
func (s *Service) Health(ctx context.Context) error {
	for _, a := range []*actor.Actor{s.resyncActor, s.processorActor, s.activationActor} {
		if err := a.Ask(ctx, func(context.Context) error { return nil }); err != nil {
			return fmt.Errorf("%s actor: %w", a.Name(), err)
		}
	}
	return nil
}
