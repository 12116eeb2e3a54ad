package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"polywallet/internal/keys"
	"polywallet/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// memoryBook is an in-memory AddressStore.
type memoryBook struct {
	mu       sync.Mutex
	records  []models.AddressRecord
	listErr  error
	addDelay time.Duration
	gate     chan struct{}
}

func (m *memoryBook) EnsureUser(ctx context.Context, userID string) error { return nil }

func (m *memoryBook) ListAddresses(ctx context.Context, userID string, network models.Network) ([]models.AddressRecord, error) {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.AddressRecord
	for _, r := range m.records {
		if r.UserID == userID && r.Network == network {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryBook) AddAddress(ctx context.Context, record models.AddressRecord) error {
	time.Sleep(m.addDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if (r.Network == record.Network && r.Address == record.Address) || (r.UserID == record.UserID && r.Network == record.Network && r.Index == record.Index) {
			return models.ErrConflict
		}
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memoryBook) OwnersOf(ctx context.Context, network models.Network, addresses ...string) ([]models.AddressRecord, error) {
	return nil, nil
}

func (m *memoryBook) AddressesByNetwork(ctx context.Context, network models.Network) ([]string, error) {
	return nil, nil
}

func newWallet(t *testing.T, passphrase string) *keys.HDWallet {
	t.Helper()
	w, err := keys.NewFromMnemonic(testMnemonic, passphrase)
	require.NoError(t, err)
	return w
}

func TestRegistry_NewAddressSequential(t *testing.T) {
	w := newWallet(t, "")
	book := &memoryBook{}
	logger := zerolog.Nop()
	r := New(context.Background(), models.NanoMainnet, w.ID(), book, w.Derive, &logger)

	first, err := r.NewAddress(context.Background())
	require.NoError(t, err)
	second, err := r.NewAddress(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint32(0), first.Index)
	assert.Equal(t, uint32(1), second.Index)
	assert.Equal(t, Ready, r.State())

	size, err := r.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	found, err := r.Lookup(context.Background(), second.Address)
	require.NoError(t, err)
	assert.Equal(t, second.Address, found.Address)
}

func TestRegistry_LookupLegacyNanoPrefix(t *testing.T) {
	w := newWallet(t, "")
	logger := zerolog.Nop()
	r := New(context.Background(), models.NanoMainnet, w.ID(), &memoryBook{}, w.Derive, &logger)

	account, err := r.NewAddress(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(account.Address, "nano_"))

	found, err := r.Lookup(context.Background(), "xrb_"+strings.TrimPrefix(account.Address, "nano_"))
	require.NoError(t, err)
	assert.Equal(t, account.Address, found.Address)
}

func TestRegistry_ConcurrentNewAddress(t *testing.T) {
	w := newWallet(t, "")
	book := &memoryBook{addDelay: 20 * time.Millisecond}
	logger := zerolog.Nop()
	r := New(context.Background(), models.EthMainnet, w.ID(), book, w.Derive, &logger)

	var wg sync.WaitGroup
	results := make([]*models.Account, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.NewAddress(context.Background())
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	indices := []uint32{results[0].Index, results[1].Index}
	assert.ElementsMatch(t, []uint32{0, 1}, indices)
	assert.NotEqual(t, results[0].Address, results[1].Address)
	assert.Len(t, book.records, 2)
}

func TestRegistry_LoadsPersistedAddresses(t *testing.T) {
	w := newWallet(t, "")
	book := &memoryBook{}
	logger := zerolog.Nop()

	first := New(context.Background(), models.NanoMainnet, w.ID(), book, w.Derive, &logger)
	_, err := first.NewAddress(context.Background())
	require.NoError(t, err)
	_, err = first.NewAddress(context.Background())
	require.NoError(t, err)

	second := New(context.Background(), models.NanoMainnet, w.ID(), book, w.Derive, &logger)
	accounts, err := second.Addresses(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)

	next, err := second.NewAddress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), next.Index)
}

func TestRegistry_WrongMnemonicFailsLoad(t *testing.T) {
	right := newWallet(t, "")
	wrong := newWallet(t, "other")
	logger := zerolog.Nop()

	// Addresses stored under the id of one seed but re-derived with another.
	book := &memoryBook{}
	seed := New(context.Background(), models.NanoMainnet, "user", book, right.Derive, &logger)
	_, err := seed.NewAddress(context.Background())
	require.NoError(t, err)

	r := New(context.Background(), models.NanoMainnet, "user", book, wrong.Derive, &logger)
	_, err = r.NewAddress(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrong mnemonic")
	assert.Equal(t, Failed, r.State())

	_, err = r.Lookup(context.Background(), "nano_x")
	require.Error(t, err)
}

func TestRegistry_LoadErrorIsSticky(t *testing.T) {
	w := newWallet(t, "")
	boom := errors.New("boom")
	logger := zerolog.Nop()
	r := New(context.Background(), models.NanoMainnet, w.ID(), &memoryBook{listErr: boom}, w.Derive, &logger)

	_, err := r.Size(context.Background())
	require.ErrorIs(t, err, boom)
	_, err = r.Addresses(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRegistry_WaitHonoursContext(t *testing.T) {
	w := newWallet(t, "")
	gate := make(chan struct{})
	defer close(gate)
	logger := zerolog.Nop()
	r := New(context.Background(), models.NanoMainnet, w.ID(), &memoryBook{gate: gate}, w.Derive, &logger)

	assert.Equal(t, Loading, r.State())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.NewAddress(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_LookupUnknown(t *testing.T) {
	w := newWallet(t, "")
	logger := zerolog.Nop()
	r := New(context.Background(), models.EthSepolia, w.ID(), &memoryBook{}, w.Derive, &logger)

	account, err := r.NewAddress(context.Background())
	require.NoError(t, err)

	found, err := r.Lookup(context.Background(), strings.ToLower(account.Address))
	require.NoError(t, err)
	assert.Equal(t, account.Index, found.Index)

	_, err = r.Lookup(context.Background(), "0x0000000000000000000000000000000000000001")
	require.ErrorIs(t, err, models.ErrNotFound)
}
