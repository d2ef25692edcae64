// Package nodeinfo resolves the local node's identity from the network
// node's REST surface before any stream is opened.
package nodeinfo

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrNodeLookup = errors.New("nodeinfo: lookup failed")

// Status is the subset of the node status document the daemon needs.
type Status struct {
	NodeID string `json:"node_id"`
}

// Node describes one registered network participant.
type Node struct {
	Identity    string            `json:"identity"`
	Endpoint    string            `json:"endpoint"`
	DisplayName string            `json:"display_name"`
	Metadata    map[string]string `json:"metadata"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the node at baseURL. tlsCfg applies to https
// endpoints; pass nil to use the system trust store.
func New(baseURL string, tlsCfg *tls.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
	}
}

// Status fetches the node's own identity.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	if err := c.getJSON(ctx, c.baseURL+"/status", &out); err != nil {
		return Status{}, err
	}
	if out.NodeID == "" {
		return Status{}, fmt.Errorf("%w: status response missing node_id", ErrNodeLookup)
	}
	return out, nil
}

// Node fetches registry details for one node identity. The registry wraps
// the record in a data envelope.
func (c *Client) Node(ctx context.Context, identity string) (Node, error) {
	var out struct {
		Data Node `json:"data"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/nodes/"+identity, &out); err != nil {
		return Node{}, err
	}
	if out.Data.Identity == "" {
		out.Data.Identity = identity
	}
	return out.Data, nil
}

// LocalNode resolves the node this daemon is attached to.
func (c *Client) LocalNode(ctx context.Context) (Node, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return Node{}, err
	}
	return c.Node(ctx, status.NodeID)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNodeLookup, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: get %s: %v", ErrNodeLookup, url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrNodeLookup, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: get %s: status %d", ErrNodeLookup, url, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrNodeLookup, url, err)
	}
	return nil
}
