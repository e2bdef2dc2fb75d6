// Copyright 2017 Cameron Bergoon
// https://github.com/cbergoon/merkletree
// Licensed under the MIT License, see LICENCE file for details.
// This code has been cleaned up, refactored, and reworked to operate on
// hex encoded transaction hashes.

// Package merkle provides an implementation of a merkle tree for validation
// support for the blockchain. Leaves are the transaction hashes themselves and
// parents are the sha256 of the concatenated hex strings of their children.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MaxDepth is the maximum number of levels built above the leaves. Tests
// lower it to build trees that are too deep.
var MaxDepth = 20

// EmptyRoot is the root used by blocks that carry no transactions.
var EmptyRoot = strings.Repeat("0", 64)

// Direction values used in a proof step.
const (
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Set of error variables for tree construction and proofs.
var (
	ErrEmptyInput   = errors.New("cannot construct tree with no content")
	ErrLeafNotFound = errors.New("leaf not found in the merkle tree")
	ErrTreeTooDeep  = errors.New("max tree depth exceeded")
)

// =============================================================================

// ProofStep is one hop of a proof path. A direction of left means the hash
// being carried is the left child, so the sibling is appended to it. A
// direction of right means the sibling is prepended.
type ProofStep struct {
	SiblingHash string `json:"siblingHash"`
	Direction   string `json:"direction"`
}

// Proof is the ordered set of steps from a leaf up to the root.
type Proof []ProofStep

// NodeRecord is the persistable position of a node in the tree. The root
// lives at level 0 index 0 and the children of index i sit at 2i and 2i+1.
type NodeRecord struct {
	Level  int
	Index  int
	Hash   string
	Copied bool
}

// =============================================================================

// Tree represents a merkle tree built over a set of hex hashes.
type Tree struct {
	Root       *Node
	Leafs      []*Node
	MerkleRoot string
}

// NewTree constructs a new merkle tree from the specified leaf hashes.
func NewTree(leaves []string) (*Tree, error) {
	var t Tree
	if err := t.Generate(leaves); err != nil {
		return nil, err
	}

	return &t, nil
}

// Root is a convenience function that returns the root hash for the set of
// leaves, or EmptyRoot when there are none.
func Root(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return EmptyRoot, nil
	}

	t, err := NewTree(leaves)
	if err != nil {
		return "", err
	}

	return t.MerkleRoot, nil
}

// Generate constructs the leafs and nodes of the tree from the specified
// hashes. If the tree has been generated previously, the tree is re-generated
// from scratch.
func (t *Tree) Generate(leaves []string) error {
	if len(leaves) == 0 {
		return ErrEmptyInput
	}

	level := make([]*Node, len(leaves))
	for i, hash := range leaves {
		level[i] = &Node{
			Tree: t,
			Hash: hash,
			leaf: true,
		}
	}

	// The leaf level is always paired, even for a single transaction.
	level = pad(level)
	t.Leafs = level

	for depth := 0; len(level) > 1; depth++ {
		if depth >= MaxDepth {
			return ErrTreeTooDeep
		}

		next := make([]*Node, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			n := Node{
				Tree:  t,
				Left:  level[i],
				Right: level[i+1],
				Hash:  Hash(level[i].Hash, level[i+1].Hash),
			}
			level[i].Parent = &n
			level[i+1].Parent = &n
			next = append(next, &n)
		}

		if len(next) > 1 {
			next = pad(next)
		}
		level = next
	}

	t.Root = level[0]
	t.MerkleRoot = t.Root.Hash

	return nil
}

// RootHash returns the hash of the root node.
func (t *Tree) RootHash() string {
	return t.MerkleRoot
}

// Proof returns the path of sibling hashes from the leftmost leaf matching
// the specified hash up to the root.
func (t *Tree) Proof(leaf string) (Proof, error) {
	for _, node := range t.Leafs {
		if node.dup || node.Hash != leaf {
			continue
		}

		var proof Proof
		for current := node; current.Parent != nil; current = current.Parent {
			parent := current.Parent

			switch current {
			case parent.Left:
				proof = append(proof, ProofStep{SiblingHash: parent.Right.Hash, Direction: DirectionLeft})
			default:
				proof = append(proof, ProofStep{SiblingHash: parent.Left.Hash, Direction: DirectionRight})
			}
		}

		return proof, nil
	}

	return nil, ErrLeafNotFound
}

// Verify walks the tree and recomputes every intermediate node, returning an
// error naming the first node whose hash does not match its children.
func (t *Tree) Verify() error {
	if t.Root == nil {
		return ErrEmptyInput
	}

	return t.Root.verify()
}

// Nodes returns every node of the tree in preorder with its level and index
// so the tree can be persisted alongside its block.
func (t *Tree) Nodes() []NodeRecord {
	var records []NodeRecord

	var walk func(n *Node, level int, index int)
	walk = func(n *Node, level int, index int) {
		if n == nil {
			return
		}

		records = append(records, NodeRecord{
			Level:  level,
			Index:  index,
			Hash:   n.Hash,
			Copied: n.dup,
		})

		if n.Left != nil {
			walk(n.Left, level+1, index*2)
			walk(n.Right, level+1, index*2+1)
		}
	}
	walk(t.Root, 0, 0)

	return records
}

// =============================================================================

// VerifyProof recomputes the root from the leaf and the proof path and
// compares it with the expected root.
func VerifyProof(leaf string, proof Proof, root string) bool {
	hash := leaf

	for _, step := range proof {
		switch step.Direction {
		case DirectionLeft:
			hash = Hash(hash, step.SiblingHash)
		case DirectionRight:
			hash = Hash(step.SiblingHash, hash)
		default:
			return false
		}
	}

	return hash == root
}

// Hash returns the sha256 hex encoding of the concatenated hex strings.
func Hash(left string, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// =============================================================================

// Node represents a node, root, or leaf in the tree.
type Node struct {
	Tree   *Tree
	Parent *Node
	Left   *Node
	Right  *Node
	Hash   string
	leaf   bool
	dup    bool
}

// IsLeaf reports whether the node is a leaf.
func (n *Node) IsLeaf() bool {
	return n.leaf
}

// IsCopied reports whether the node was duplicated to pair an odd level.
func (n *Node) IsCopied() bool {
	return n.dup
}

// verify recomputes the hash for this node and its children.
func (n *Node) verify() error {
	if n.Left == nil {
		return nil
	}

	if err := n.Left.verify(); err != nil {
		return err
	}
	if err := n.Right.verify(); err != nil {
		return err
	}

	if exp := Hash(n.Left.Hash, n.Right.Hash); exp != n.Hash {
		return fmt.Errorf("node hash mismatch: got %s, exp %s", n.Hash, exp)
	}

	return nil
}

// pad duplicates the last node when the level has an odd count. The copy
// keeps the children of the original so the persisted tree has the same
// shape on every node.
func pad(level []*Node) []*Node {
	if len(level)%2 == 0 {
		return level
	}

	last := level[len(level)-1]
	dup := Node{
		Tree:  last.Tree,
		Left:  last.Left,
		Right: last.Right,
		Hash:  last.Hash,
		leaf:  last.leaf,
		dup:   true,
	}

	return append(level, &dup)
}
