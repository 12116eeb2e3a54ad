// Package evm follows EVM networks through new heads and provider webhooks.
package evm

import (
	"context"
	"errors"
	"time"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"
	"polywallet/internal/rpc"
	"polywallet/internal/watchers"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

var (
	_ interfaces.SettlementWatcher = (*HeadWatcher)(nil)
	_ HeadSource                    = (*rpc.EVMClient)(nil)
)

const defaultPollInterval = 10 * time.Second

// HeadSource is the part of the EVM client the head watcher needs.
type HeadSource interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// WindowSource returns stored transfers by height range.
type WindowSource interface {
	Window(ctx context.Context, network models.Network, from, to uint64) ([]models.Transfer, error)
}

// HeadWatcher recomputes confirmations of recent transfers on every new
// head and republishes them to their owners.
type HeadWatcher struct {
	*watchers.Base
	source       HeadSource
	window       WindowSource
	threshold    uint64
	PollInterval time.Duration

	latest uint64
}

func NewHeadWatcher(base *watchers.Base, source HeadSource, window WindowSource) *HeadWatcher {
	info, _ := base.Network().Info()
	return &HeadWatcher{
		Base:         base,
		source:       source,
		window:       window,
		threshold:    uint64(info.FinalityThreshold),
		PollInterval: defaultPollInterval,
	}
}

// Start blocks until ctx is cancelled. Endpoints without subscriptions are
// polled.
func (w *HeadWatcher) Start(ctx context.Context) error {
	for {
		err := w.follow(ctx)
		if ctx.Err() != nil {
			w.Logger.Info().Msg("Head watcher shutting down")
			return nil
		}
		if errors.Is(err, gethrpc.ErrNotificationsUnsupported) {
			w.Logger.Info().Dur("interval", w.PollInterval).Msg("Endpoint cannot subscribe, polling heads")
			w.poll(ctx)
			return nil
		}

		w.Logger.Warn().Err(err).Msg("Head subscription failed, resubscribing")
		w.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.PollInterval):
		}
	}
}

func (w *HeadWatcher) follow(ctx context.Context) error {
	heads := make(chan *types.Header, 16)
	sub, err := w.source.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	w.Logger.Info().Msg("Subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case head := <-heads:
			if head == nil || head.Number == nil {
				continue
			}
			w.OnHead(ctx, head.Number.Uint64())
		}
	}
}

func (w *HeadWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.Logger.Info().Msg("Head watcher shutting down")
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *HeadWatcher) pollOnce(ctx context.Context) {
	height, err := w.source.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.Logger.Error().Err(err).Msg("Failed to get current block")
		}
		return
	}
	w.OnHead(ctx, height)
}

// OnHead republishes every stored transfer with a height in
// [latest-threshold, latest]. A repeated head is ignored once its window
// has been loaded.
func (w *HeadWatcher) OnHead(ctx context.Context, latest uint64) {
	if latest == w.latest {
		return
	}
	w.Head(latest)

	from := uint64(0)
	if latest > w.threshold {
		from = latest - w.threshold
	}
	transfers, err := w.window.Window(ctx, w.Network(), from, latest)
	if err != nil {
		w.Logger.Error().Err(err).Uint64("height", latest).Msg("Failed to load transfers in confirmation window")
		return
	}
	w.latest = latest

	w.Logger.Debug().Uint64("height", latest).Int("transfers", len(transfers)).Msg("New head")
	for _, t := range transfers {
		t.Confirmations = latest - t.Height + 1
		if _, err := w.Emit(ctx, t); err != nil {
			w.Logger.Error().Err(err).Str("hash", t.ID).Msg("Failed to update confirmations")
		}
	}
}
