package admin

import (
	"encoding/hex"
	"time"

	"github.com/meshwork-io/consortiumd/internal/store"
)

// ToHex renders a raw public key the way downstream consumers expect it.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// TranslateProposal maps a wire proposal into its persisted record shape.
func TranslateProposal(p CircuitProposal, at time.Time, requesterHex string) store.Proposal {
	return store.Proposal{
		ProposalType:    p.ProposalType,
		CircuitID:       p.CircuitID,
		CircuitHash:     p.CircuitHash,
		Requester:       requesterHex,
		RequesterNodeID: p.RequesterNodeID,
		Status:          store.StatusPending,
		CreatedTime:     at,
		UpdatedTime:     at,
	}
}

// TranslateConsortium maps a circuit definition into its persisted record
// shape. The embedded metadata must parse and carry an alias.
func TranslateConsortium(c CreateCircuit, at time.Time) (store.Consortium, error) {
	meta, err := ParseMetadata(c.ApplicationMetadata)
	if err != nil {
		return store.Consortium{}, err
	}
	return store.Consortium{
		CircuitID:             c.CircuitID,
		AuthorizationType:     c.AuthorizationType,
		Persistence:           c.Persistence,
		Durability:            c.Durability,
		Routes:                c.Routes,
		CircuitManagementType: c.CircuitManagementType,
		Alias:                 meta.Alias,
		Status:                store.StatusPending,
		CreatedTime:           at,
		UpdatedTime:           at,
	}, nil
}

// TranslateMembers maps proposal members, one record per participant.
func TranslateMembers(circuitID string, nodes []CircuitNode, at time.Time) []store.Member {
	out := make([]store.Member, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, store.Member{
			CircuitID:   circuitID,
			NodeID:      n.NodeID,
			Endpoint:    n.Endpoint,
			Status:      store.StatusPending,
			CreatedTime: at,
			UpdatedTime: at,
		})
	}
	return out
}

// TranslateServices maps the circuit roster, one record per service.
func TranslateServices(circuitID string, roster []CircuitService, at time.Time) []store.Service {
	out := make([]store.Service, 0, len(roster))
	for _, svc := range roster {
		args := make(map[string]string, len(svc.Arguments))
		for _, kv := range svc.Arguments {
			args[kv[0]] = kv[1]
		}
		out = append(out, store.Service{
			CircuitID:    circuitID,
			ServiceID:    svc.ServiceID,
			ServiceType:  svc.ServiceType,
			AllowedNodes: append([]string(nil), svc.AllowedNodes...),
			Arguments:    args,
			Status:       store.StatusPending,
			CreatedTime:  at,
			UpdatedTime:  at,
		})
	}
	return out
}

// LocalServiceID returns the roster service this node participates in, if any.
func LocalServiceID(roster []CircuitService, nodeID string) (string, bool) {
	for _, svc := range roster {
		for _, allowed := range svc.AllowedNodes {
			if allowed == nodeID {
				return svc.ServiceID, true
			}
		}
	}
	return "", false
}
