package store

import "time"

// Proposal/consortium lifecycle status values.
const (
	StatusPending  = "Pending"
	StatusAccepted = "Accepted"
	StatusRejected = "Rejected"
)

// Vote values recorded per voter.
const (
	VoteAccept = "Accept"
	VoteReject = "Reject"
)

// Proposal is one persisted circuit proposal. ID is assigned on insert.
type Proposal struct {
	ID              int64
	ProposalType    string
	CircuitID       string
	CircuitHash     string
	Requester       string
	RequesterNodeID string
	Status          string
	CreatedTime     time.Time
	UpdatedTime     time.Time
}

// Consortium is the persisted representation of a circuit.
type Consortium struct {
	CircuitID             string
	AuthorizationType     string
	Persistence           string
	Durability            string
	Routes                string
	CircuitManagementType string
	Alias                 string
	Status                string
	CreatedTime           time.Time
	UpdatedTime           time.Time
}

// Member is one node participating in a consortium.
type Member struct {
	CircuitID   string
	NodeID      string
	Endpoint    string
	Status      string
	CreatedTime time.Time
	UpdatedTime time.Time
}

// Service is one roster entry of a consortium.
type Service struct {
	CircuitID    string
	ServiceID    string
	ServiceType  string
	AllowedNodes []string
	Arguments    map[string]string
	Status       string
	CreatedTime  time.Time
	UpdatedTime  time.Time
}

// VoteRecord is one persisted vote, correlated to its proposal row.
type VoteRecord struct {
	ProposalID     int64
	VoterPublicKey string
	VoterNodeID    string
	Vote           string
	CreatedTime    time.Time
}
