package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrTerminal     = errors.New("store: proposal already in terminal status")
	ErrPathRequired = errors.New("store: database path required")
)

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	proposal_type TEXT NOT NULL,
	circuit_id TEXT NOT NULL,
	circuit_hash TEXT NOT NULL,
	requester TEXT NOT NULL,
	requester_node_id TEXT NOT NULL,
	status TEXT NOT NULL,
	created_time INTEGER NOT NULL,
	updated_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_circuit ON proposals(circuit_id);

CREATE TABLE IF NOT EXISTS consortiums (
	circuit_id TEXT PRIMARY KEY,
	authorization_type TEXT NOT NULL,
	persistence TEXT NOT NULL,
	durability TEXT NOT NULL,
	routes TEXT NOT NULL,
	circuit_management_type TEXT NOT NULL,
	alias TEXT NOT NULL,
	status TEXT NOT NULL,
	created_time INTEGER NOT NULL,
	updated_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS members (
	circuit_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	status TEXT NOT NULL,
	created_time INTEGER NOT NULL,
	updated_time INTEGER NOT NULL,
	PRIMARY KEY (circuit_id, node_id)
);

CREATE TABLE IF NOT EXISTS services (
	circuit_id TEXT NOT NULL,
	service_id TEXT NOT NULL,
	service_type TEXT NOT NULL,
	allowed_nodes TEXT NOT NULL,
	arguments TEXT NOT NULL,
	status TEXT NOT NULL,
	created_time INTEGER NOT NULL,
	updated_time INTEGER NOT NULL,
	PRIMARY KEY (circuit_id, service_id)
);

CREATE TABLE IF NOT EXISTS vote_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	proposal_id INTEGER NOT NULL,
	voter_public_key TEXT NOT NULL,
	voter_node_id TEXT NOT NULL,
	vote TEXT NOT NULL,
	created_time INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_votes_proposal ON vote_records(proposal_id);
`

// Store persists proposals, consortium rosters and vote records in sqlite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent publishers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertProposal writes the proposal plus its consortium, members and
// services in one transaction and returns the new proposal row id.
func (s *Store) InsertProposal(ctx context.Context, p Proposal, c Consortium, members []Member, services []Service) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO proposals (proposal_type, circuit_id, circuit_hash, requester, requester_node_id, status, created_time, updated_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ProposalType, p.CircuitID, p.CircuitHash, p.Requester, p.RequesterNodeID, p.Status,
		p.CreatedTime.UnixMilli(), p.UpdatedTime.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: insert proposal: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: proposal id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO consortiums (circuit_id, authorization_type, persistence, durability, routes, circuit_management_type, alias, status, created_time, updated_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CircuitID, c.AuthorizationType, c.Persistence, c.Durability, c.Routes,
		c.CircuitManagementType, c.Alias, c.Status, c.CreatedTime.UnixMilli(), c.UpdatedTime.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: insert consortium: %w", err)
	}

	for _, m := range members {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO members (circuit_id, node_id, endpoint, status, created_time, updated_time)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			m.CircuitID, m.NodeID, m.Endpoint, m.Status, m.CreatedTime.UnixMilli(), m.UpdatedTime.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("store: insert member %s: %w", m.NodeID, err)
		}
	}

	for _, svc := range services {
		args, err := json.Marshal(svc.Arguments)
		if err != nil {
			return 0, fmt.Errorf("store: encode service arguments: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO services (circuit_id, service_id, service_type, allowed_nodes, arguments, status, created_time, updated_time)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			svc.CircuitID, svc.ServiceID, svc.ServiceType, strings.Join(svc.AllowedNodes, ","),
			string(args), svc.Status, svc.CreatedTime.UnixMilli(), svc.UpdatedTime.UnixMilli())
		if err != nil {
			return 0, fmt.Errorf("store: insert service %s: %w", svc.ServiceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// PendingProposalID returns the row id of the pending proposal for a circuit.
func (s *Store) PendingProposalID(ctx context.Context, circuitID string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM proposals WHERE circuit_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		circuitID, StatusPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: pending proposal for circuit %s", ErrNotFound, circuitID)
	}
	if err != nil {
		return 0, fmt.Errorf("store: pending proposal lookup: %w", err)
	}
	return id, nil
}

// GetProposal loads one proposal row by id.
func (s *Store) GetProposal(ctx context.Context, id int64) (Proposal, error) {
	var p Proposal
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, proposal_type, circuit_id, circuit_hash, requester, requester_node_id, status, created_time, updated_time
		 FROM proposals WHERE id = ?`, id).
		Scan(&p.ID, &p.ProposalType, &p.CircuitID, &p.CircuitHash, &p.Requester, &p.RequesterNodeID,
			&p.Status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Proposal{}, fmt.Errorf("%w: proposal %d", ErrNotFound, id)
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("store: get proposal: %w", err)
	}
	p.CreatedTime = time.UnixMilli(created)
	p.UpdatedTime = time.UnixMilli(updated)
	return p, nil
}

// SetProposalStatus moves a pending proposal into a terminal status. A
// proposal already in a terminal status is left untouched.
func (s *Store) SetProposalStatus(ctx context.Context, id int64, status string, at time.Time) error {
	if status != StatusAccepted && status != StatusRejected {
		return fmt.Errorf("store: invalid terminal status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE proposals SET status = ?, updated_time = ? WHERE id = ? AND status = ?`,
		status, at.UnixMilli(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("store: set proposal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set proposal status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: proposal %d", ErrTerminal, id)
	}
	return nil
}

// InsertVote appends one vote record.
func (s *Store) InsertVote(ctx context.Context, v VoteRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vote_records (proposal_id, voter_public_key, voter_node_id, vote, created_time)
		 VALUES (?, ?, ?, ?, ?)`,
		v.ProposalID, v.VoterPublicKey, v.VoterNodeID, v.Vote, v.CreatedTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert vote: %w", err)
	}
	return nil
}

// VotesForProposal lists vote records for one proposal in insert order.
func (s *Store) VotesForProposal(ctx context.Context, proposalID int64) ([]VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT proposal_id, voter_public_key, voter_node_id, vote, created_time
		 FROM vote_records WHERE proposal_id = ? ORDER BY id`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("store: list votes: %w", err)
	}
	defer rows.Close()
	var out []VoteRecord
	for rows.Next() {
		var v VoteRecord
		var created int64
		if err := rows.Scan(&v.ProposalID, &v.VoterPublicKey, &v.VoterNodeID, &v.Vote, &created); err != nil {
			return nil, fmt.Errorf("store: scan vote: %w", err)
		}
		v.CreatedTime = time.UnixMilli(created)
		out = append(out, v)
	}
	return out, rows.Err()
}
