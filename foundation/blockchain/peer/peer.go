// Package peer maintains the set of known peer hosts a node dials and the
// status a node reports about itself.
package peer

import (
	"sort"
	"strings"
	"sync"
)

// Peer represents a node in the network by the host its peer endpoint
// listens on.
type Peer struct {
	Host string
}

// New constructs a peer, dropping any ws:// or http:// scheme and trailing
// slash from the host.
func New(host string) Peer {
	for _, scheme := range []string{"ws://", "wss://", "http://", "https://"} {
		host = strings.TrimPrefix(host, scheme)
	}

	return Peer{
		Host: strings.TrimSuffix(strings.TrimSpace(host), "/"),
	}
}

// Match validates if the specified host matches this node.
func (p Peer) Match(host string) bool {
	return p.Host == host
}

// =============================================================================

// Status represents what a node reports about itself and its peers.
type Status struct {
	Host             string   `json:"host"`
	LatestBlockHash  string   `json:"latest_block_hash"`
	LatestBlockIndex uint64   `json:"latest_block_index"`
	Pending          int      `json:"pending"`
	Connected        int      `json:"connected_peers"`
	KnownPeers       []string `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers.
type PeerSet struct {
	mu  sync.RWMutex
	set map[Peer]struct{}
}

// NewPeerSet constructs a set holding the specified hosts. Empty hosts are
// skipped.
func NewPeerSet(hosts ...string) *PeerSet {
	ps := PeerSet{
		set: make(map[Peer]struct{}),
	}

	for _, host := range hosts {
		if p := New(host); p.Host != "" {
			ps.set[p] = struct{}{}
		}
	}

	return &ps
}

// Add adds a new node to the set.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer]
	if !exists {
		ps.set[peer] = struct{}{}
		return true
	}

	return false
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(peer Peer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, peer)
}

// Copy returns the known peers other than host, sorted by host.
func (ps *PeerSet) Copy(host string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for peer := range ps.set {
		if !peer.Match(host) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool {
		return peers[i].Host < peers[j].Host
	})

	return peers
}
