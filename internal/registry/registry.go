// Package registry caches the derived accounts of one (user, network) pair
// and allocates new address indices.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/rs/zerolog"
)

type State int32

const (
	Loading State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "failed"
	}
}

// DeriveFunc derives the account at index on network.
type DeriveFunc func(network models.Network, index uint32) (*models.Account, error)

// Registry is safe for concurrent use. Every method except Get waits for the
// initial load to finish.
type Registry struct {
	network models.Network
	userID  string
	book    interfaces.AddressStore
	derive  DeriveFunc
	logger  *zerolog.Logger

	ready   chan struct{}
	state   atomic.Int32
	loadErr error

	// allocMu is held from index allocation until the account is cached.
	allocMu   sync.Mutex
	mu        sync.RWMutex
	accounts  []*models.Account
	byAddress map[string]*models.Account
}

// New starts loading the persisted addresses of userID on network and
// returns immediately.
func New(ctx context.Context, network models.Network, userID string, book interfaces.AddressStore, derive DeriveFunc, logger *zerolog.Logger) *Registry {
	l := logger.With().Str("network", network.String()).Logger()
	r := &Registry{
		network:   network,
		userID:    userID,
		book:      book,
		derive:    derive,
		logger:    &l,
		ready:     make(chan struct{}),
		byAddress: make(map[string]*models.Account),
	}
	go r.load(ctx)
	return r
}

func (r *Registry) load(ctx context.Context) {
	defer close(r.ready)

	if err := r.loadAccounts(ctx); err != nil {
		r.loadErr = fmt.Errorf("load %s accounts: %w", r.network, err)
		r.state.Store(int32(Failed))
		r.logger.Error().Err(err).Msg("Account registry failed to load")
		return
	}
	r.state.Store(int32(Ready))
	r.logger.Debug().Int("accounts", len(r.accounts)).Msg("Account registry ready")
}

func (r *Registry) loadAccounts(ctx context.Context) error {
	records, err := r.book.ListAddresses(ctx, r.userID, r.network)
	if err != nil {
		return err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, record := range records {
		account, err := r.derive(r.network, record.Index)
		if err != nil {
			return err
		}
		if models.NormalizeAddress(r.network, account.Address) != models.NormalizeAddress(r.network, record.Address) {
			return fmt.Errorf("stored address %s at index %d does not match derived %s: wrong mnemonic",
				record.Address, record.Index, account.Address)
		}
		r.insert(account)
	}
	return nil
}

// insert requires r.mu.
func (r *Registry) insert(account *models.Account) {
	r.accounts = append(r.accounts, account)
	r.byAddress[models.NormalizeAddress(r.network, account.Address)] = account
}

func (r *Registry) wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) State() State {
	return State(r.state.Load())
}

func (r *Registry) Network() models.Network {
	return r.network
}

// Get derives the account at index. It performs no I/O.
func (r *Registry) Get(index uint32) (*models.Account, error) {
	return r.derive(r.network, index)
}

// NewAddress derives the next account, persists it and caches it.
func (r *Registry) NewAddress(ctx context.Context) (*models.Account, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	r.mu.RLock()
	index := uint32(len(r.accounts))
	r.mu.RUnlock()

	account, err := r.derive(r.network, index)
	if err != nil {
		return nil, err
	}

	err = r.book.AddAddress(ctx, models.AddressRecord{
		Address: account.Address,
		UserID:  r.userID,
		Index:   index,
		Network: r.network,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			r.logger.Warn().Uint32("index", index).Str("address", account.Address).Msg("Address already stored")
		}
		return nil, fmt.Errorf("store %s address %d: %w", r.network, index, err)
	}

	r.mu.Lock()
	r.insert(account)
	r.mu.Unlock()

	r.logger.Info().Uint32("index", index).Str("address", account.Address).Msg("Created address")
	return account, nil
}

// Lookup returns the local account owning address or models.ErrNotFound.
func (r *Registry) Lookup(ctx context.Context, address string) (*models.Account, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.byAddress[models.NormalizeAddress(r.network, address)]
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", models.ErrNotFound, address, r.network)
	}
	return account, nil
}

// Addresses returns the cached accounts ordered by index.
func (r *Registry) Addresses(ctx context.Context) ([]*models.Account, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Account, len(r.accounts))
	copy(out, r.accounts)
	return out, nil
}

func (r *Registry) Size(ctx context.Context) (int, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts), nil
}
