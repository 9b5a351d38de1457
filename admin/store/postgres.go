// Package store implements admin.Store over PostgreSQL, the durable
// side of circuit proposal application (spec.md §4.4).
//
// Grounded on paxos/acceptor.go's disk-write discipline
// (acceptorWriteToDisk: one transaction per state change, errors
// surfaced rather than retried silently) generalized from LMDB's
// key/value transactions to relational rows, since proposal and
// circuit records have a natural columnar shape (circuit_hash,
// state, circuit_id, votes) that a capnp blob column wouldn't make
// queryable for admin tooling.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	"splinterd.io/server/admin"
	"splinterd.io/server/model"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
)

// PostgresStore is the relational ProposalStore (spec.md's admin
// durable layer; see SPEC_FULL.md's DOMAIN STACK table).
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL cmd/splinterd applies on startup with a single
// Exec against the pool; kept here rather than a separate migrations/ tree since it
// is small and owned entirely by this package.
const Schema = `
CREATE TABLE IF NOT EXISTS circuit_proposals (
	circuit_hash BYTEA PRIMARY KEY,
	circuit_id TEXT NOT NULL,
	proposal_type SMALLINT NOT NULL,
	state SMALLINT NOT NULL,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS circuits (
	circuit_id TEXT PRIMARY KEY,
	payload BYTEA NOT NULL,
	circuit_version INT NOT NULL,
	status SMALLINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type proposalPayload struct {
	ProposalType model.ProposalType
	CircuitId    string
	Circuit      *model.Circuit
	Votes        []model.VoteRecord
	Requester    []byte
}

func (s *PostgresStore) SaveProposal(p *model.CircuitProposal, state admin.ProposalState) error {
	payload := proposalPayload{
		ProposalType: p.ProposalType,
		CircuitId:    string(p.CircuitId),
		Circuit:      p.Circuit,
		Votes:        p.Votes,
		Requester:    p.Requester,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return splerr.NewInternal("marshal proposal payload", err)
	}

	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO circuit_proposals (circuit_hash, circuit_id, proposal_type, state, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (circuit_hash) DO UPDATE SET state = $4, payload = $5, updated_at = now()
	`, p.CircuitHash[:], string(p.CircuitId), int(p.ProposalType), int(state), data)
	if err != nil {
		return splerr.NewResourceTemporarilyUnavailable("save proposal", err)
	}
	return nil
}

// MarkDisbanded records circuitId's durable status as Disbanded
// without requiring a fresh Circuit payload, the commit half of
// applyMutation's Disband branch (spec.md §4.4's atomic
// routing-table+store-commit invariant applies to Disband exactly as
// it does to every other proposal type).
func (s *PostgresStore) MarkDisbanded(circuitId splinterid.CircuitId) error {
	_, err := s.pool.Exec(context.Background(), `
		UPDATE circuits SET status = $2, updated_at = now() WHERE circuit_id = $1
	`, string(circuitId), int(model.CircuitStatusDisbanded))
	if err != nil {
		return splerr.NewResourceTemporarilyUnavailable("mark circuit disbanded", err)
	}
	return nil
}

func (s *PostgresStore) CommitCircuit(circuit *model.Circuit) error {
	data, err := model.Encode(circuit)
	if err != nil {
		return splerr.NewInternal("encode circuit", err)
	}

	_, err = s.pool.Exec(context.Background(), `
		INSERT INTO circuits (circuit_id, payload, circuit_version, status, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (circuit_id) DO UPDATE SET payload = $2, circuit_version = $3, status = $4, updated_at = now()
	`, string(circuit.CircuitId), data, circuit.CircuitVersion, int(circuit.Status))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return splerr.NewConstraintViolation(splerr.ConstraintOther, "commit circuit", err)
		}
		return splerr.NewResourceTemporarilyUnavailable("commit circuit", err)
	}
	return nil
}
