package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

var _ interfaces.Store = (*BadgerStore)(nil)

// Key layout:
//
//	user:<id>
//	addr:<network>:<address>             -> AddressRecord
//	addru:<user>:<network>:<index>       -> address
//	tx:<network>:<id>                    -> Transfer
//	txh:<network>:<height>:<id>          -> nil
//	txa:<network>:<address>:<id>         -> nil
const (
	prefixUser          = "user:"
	prefixAddress       = "addr:"
	prefixAddressUnique = "addru:"
	prefixTransfer      = "tx:"
	prefixHeight        = "txh:"
	prefixParty         = "txa:"
)

// maxConflictRetries bounds retries of optimistic transactions.
const maxConflictRetries = 16

// BadgerStore is an embedded implementation of interfaces.Store.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a store at path. An empty path keeps everything in memory.
func OpenBadger(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, fmt.Errorf("database at %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// update retries fn while concurrent transactions conflict.
func (b *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *BadgerStore) EnsureUser(ctx context.Context, userID string) error {
	err := b.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixUser+userID), nil)
	})
	return errors.Wrap(err, "ensure user")
}

func addressKey(network models.Network, address string) []byte {
	return []byte(prefixAddress + string(network) + ":" + address)
}

func addressUniqueKey(userID string, network models.Network, index uint32) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%010d", prefixAddressUnique, userID, network, index))
}

func (b *BadgerStore) ListAddresses(ctx context.Context, userID string, network models.Network) ([]models.AddressRecord, error) {
	prefix := []byte(fmt.Sprintf("%s%s:%s:", prefixAddressUnique, userID, network))

	var records []models.AddressRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			address, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			record, err := getAddress(txn, network, string(address))
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return records, nil
}

func getAddress(txn *badger.Txn, network models.Network, address string) (models.AddressRecord, error) {
	var record models.AddressRecord
	item, err := txn.Get(addressKey(network, address))
	if err != nil {
		return record, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &record)
	})
	return record, err
}

func (b *BadgerStore) AddAddress(ctx context.Context, record models.AddressRecord) error {
	record.Address = models.NormalizeAddress(record.Network, record.Address)
	value, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode address")
	}

	err = b.update(ctx, func(txn *badger.Txn) error {
		unique := addressUniqueKey(record.UserID, record.Network, record.Index)
		for _, key := range [][]byte{addressKey(record.Network, record.Address), unique} {
			_, err := txn.Get(key)
			if err == nil {
				return models.ErrConflict
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := txn.Set(addressKey(record.Network, record.Address), value); err != nil {
			return err
		}
		return txn.Set(unique, []byte(record.Address))
	})
	if errors.Is(err, models.ErrConflict) {
		return errors.Wrapf(models.ErrConflict, "address %s", record.Address)
	}
	return errors.Wrap(err, "add address")
}

func (b *BadgerStore) OwnersOf(ctx context.Context, network models.Network, addresses ...string) ([]models.AddressRecord, error) {
	var records []models.AddressRecord
	seen := make(map[string]bool, len(addresses))

	err := b.db.View(func(txn *badger.Txn) error {
		for _, a := range addresses {
			a = models.NormalizeAddress(network, a)
			if a == "" || seen[a] {
				continue
			}
			seen[a] = true

			record, err := getAddress(txn, network, a)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "owners of")
	}
	return records, nil
}

func (b *BadgerStore) AddressesByNetwork(ctx context.Context, network models.Network) ([]string, error) {
	prefix := []byte(prefixAddress + string(network) + ":")

	var addresses []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var record models.AddressRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			addresses = append(addresses, record.Address)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "addresses by network")
	}
	return addresses, nil
}

func transferKey(network models.Network, id string) []byte {
	return []byte(prefixTransfer + string(network) + ":" + id)
}

func heightKey(network models.Network, height uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixHeight, network, height, id))
}

func partyKey(network models.Network, address, id string) []byte {
	return []byte(prefixParty + string(network) + ":" + address + ":" + id)
}

// UpsertTransfer applies the same merge rule as the Postgres store.
func (b *BadgerStore) UpsertTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error) {
	t.From = models.NormalizeAddress(t.Network, t.From)
	t.To = models.NormalizeAddress(t.Network, t.To)

	var stored models.Transfer
	err := b.update(ctx, func(txn *badger.Txn) error {
		key := transferKey(t.Network, t.ID)
		stored = t

		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing models.Transfer
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &existing) }); err != nil {
				return err
			}
			stored = existing
			if existing.Height == t.Height {
				if t.Confirmations > existing.Confirmations {
					stored.Confirmations = t.Confirmations
				}
			} else {
				if err := txn.Delete(heightKey(t.Network, existing.Height, t.ID)); err != nil {
					return err
				}
				stored.Height = t.Height
				stored.Confirmations = t.Confirmations
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			for _, party := range []string{t.From, t.To} {
				if err := txn.Set(partyKey(t.Network, party, t.ID), nil); err != nil {
					return err
				}
			}
		default:
			return err
		}

		value, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(heightKey(t.Network, stored.Height, t.ID), nil)
	})
	if err != nil {
		return models.Transfer{}, errors.Wrapf(err, "upsert transfer %s", t.ID)
	}
	return stored, nil
}

func (b *BadgerStore) TransfersInWindow(ctx context.Context, network models.Network, from, to uint64) ([]models.Transfer, error) {
	prefix := []byte(prefixHeight + string(network) + ":")
	start := heightKey(network, from, "")

	var transfers []models.Transfer
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			height, id, err := parseHeightKey(string(it.Item().Key()), len(prefix))
			if err != nil {
				return err
			}
			if height > to {
				break
			}
			t, err := getTransfer(txn, network, id)
			if err != nil {
				return err
			}
			transfers = append(transfers, t)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "transfers in window")
	}
	return transfers, nil
}

func parseHeightKey(key string, prefixLen int) (uint64, string, error) {
	rest := key[prefixLen:]
	if len(rest) < 21 || rest[20] != ':' {
		return 0, "", errors.Errorf("malformed height key %q", key)
	}
	var height uint64
	if _, err := fmt.Sscanf(rest[:20], "%d", &height); err != nil {
		return 0, "", errors.Wrapf(err, "malformed height key %q", key)
	}
	return height, rest[21:], nil
}

func getTransfer(txn *badger.Txn, network models.Network, id string) (models.Transfer, error) {
	var t models.Transfer
	item, err := txn.Get(transferKey(network, id))
	if err != nil {
		return t, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	})
	return t, err
}

func (b *BadgerStore) TransfersByAddress(ctx context.Context, network models.Network, address string) ([]models.Transfer, error) {
	prefix := []byte(prefixParty + string(network) + ":" + models.NormalizeAddress(network, address) + ":")

	var transfers []models.Transfer
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		seen := make(map[string]bool)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			if seen[id] {
				continue
			}
			seen[id] = true
			t, err := getTransfer(txn, network, id)
			if err != nil {
				return err
			}
			transfers = append(transfers, t)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "transfers by address")
	}

	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].Height != transfers[j].Height {
			return transfers[i].Height < transfers[j].Height
		}
		return transfers[i].ID < transfers[j].ID
	})
	return transfers, nil
}
