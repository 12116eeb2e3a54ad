package database

import (
	"context"
	"database/sql"

	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ interfaces.Store = (*PostgresStore)(nil)

const uniqueViolation = "23505"

const transferColumns = `network, id, contract, "from", "to", amount, height, confirmations`

// EnsureUser creates the user row if it does not exist.
func (s *PostgresStore) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, userID)
	return errors.Wrap(err, "ensure user")
}

// ListAddresses retrieves the addresses of a user on network
func (s *PostgresStore) ListAddresses(ctx context.Context, userID string, network models.Network) ([]models.AddressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, user_id, "index", network
		FROM addresses
		WHERE user_id = $1 AND network = $2
		ORDER BY "index"
	`, userID, network)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return scanAddresses(rows)
}

// AddAddress stores a derived address. Duplicates return models.ErrConflict.
func (s *PostgresStore) AddAddress(ctx context.Context, record models.AddressRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO addresses (address, user_id, "index", network)
		VALUES ($1, $2, $3, $4)
	`, models.NormalizeAddress(record.Network, record.Address), record.UserID, record.Index, record.Network)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Wrapf(models.ErrConflict, "address %s", record.Address)
	}
	return errors.Wrap(err, "add address")
}

// OwnersOf returns the address records on network matching addresses.
func (s *PostgresStore) OwnersOf(ctx context.Context, network models.Network, addresses ...string) ([]models.AddressRecord, error) {
	normalized := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a != "" {
			normalized = append(normalized, models.NormalizeAddress(network, a))
		}
	}
	if len(normalized) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, user_id, "index", network
		FROM addresses
		WHERE network = $1 AND address = ANY($2)
	`, network, pq.Array(normalized))
	if err != nil {
		return nil, errors.Wrap(err, "owners of")
	}
	return scanAddresses(rows)
}

// AddressesByNetwork returns every stored address on network.
func (s *PostgresStore) AddressesByNetwork(ctx context.Context, network models.Network) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM addresses WHERE network = $1`, network)
	if err != nil {
		return nil, errors.Wrap(err, "addresses by network")
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

func scanAddresses(rows *sql.Rows) ([]models.AddressRecord, error) {
	defer rows.Close()

	var records []models.AddressRecord
	for rows.Next() {
		var r models.AddressRecord
		if err := rows.Scan(&r.Address, &r.UserID, &r.Index, &r.Network); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpsertTransfer inserts t. On (network, id) conflict only height and
// confirmations change, and confirmations never decrease at the same height.
func (s *PostgresStore) UpsertTransfer(ctx context.Context, t models.Transfer) (models.Transfer, error) {
	var contract sql.NullString
	if t.Contract != nil {
		contract = sql.NullString{String: *t.Contract, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (network, id) DO UPDATE SET
			height = EXCLUDED.height,
			confirmations = CASE
				WHEN transfers.height = EXCLUDED.height
				THEN GREATEST(transfers.confirmations, EXCLUDED.confirmations)
				ELSE EXCLUDED.confirmations
			END,
			updated_at = now()
		RETURNING `+transferColumns,
		t.Network, t.ID, contract,
		models.NormalizeAddress(t.Network, t.From), models.NormalizeAddress(t.Network, t.To),
		t.Amount, int64(t.Height), int64(t.Confirmations))

	stored, err := scanTransfer(row)
	if err != nil {
		return models.Transfer{}, errors.Wrapf(err, "upsert transfer %s", t.ID)
	}
	return stored, nil
}

// TransfersInWindow returns the transfers on network with from <= height <= to.
func (s *PostgresStore) TransfersInWindow(ctx context.Context, network models.Network, from, to uint64) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE network = $1 AND height BETWEEN $2 AND $3
		ORDER BY height, id
	`, network, int64(from), int64(to))
	if err != nil {
		return nil, errors.Wrap(err, "transfers in window")
	}
	return scanTransfers(rows)
}

// TransfersByAddress returns the transfers touching address ordered by height.
func (s *PostgresStore) TransfersByAddress(ctx context.Context, network models.Network, address string) ([]models.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE network = $1 AND ("from" = $2 OR "to" = $2)
		ORDER BY height, id
	`, network, models.NormalizeAddress(network, address))
	if err != nil {
		return nil, errors.Wrap(err, "transfers by address")
	}
	return scanTransfers(rows)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row scanner) (models.Transfer, error) {
	var (
		t                     models.Transfer
		contract              sql.NullString
		height, confirmations int64
	)
	err := row.Scan(&t.Network, &t.ID, &contract, &t.From, &t.To, &t.Amount, &height, &confirmations)
	if err != nil {
		return models.Transfer{}, err
	}
	if contract.Valid {
		t.Contract = &contract.String
	}
	t.Height = uint64(height)
	t.Confirmations = uint64(confirmations)
	return t, nil
}

func scanTransfers(rows *sql.Rows) ([]models.Transfer, error) {
	defer rows.Close()

	var transfers []models.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
