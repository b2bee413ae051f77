package targets

import (
	"errors"
	"fmt"
	"sort"

	"github.com/15201047795/outpost-core/rmap/common"
)

var (
	ErrEmptyName     = errors.New("targets: empty node name")
	ErrDuplicateName = errors.New("targets: duplicate node name")
	ErrReplyPath     = errors.New("targets: reply path too long")
)

// TargetNode describes how to reach one RMAP target
type TargetNode struct {
	Name           string
	LogicalAddress byte
	Key            byte

	// TargetPath is prepended to every command, ReplyPath is put into the
	// reply address field
	TargetPath []byte
	ReplyPath  []byte

	// InitiatorLogicalAddress replaces the engine's own address in commands
	// to this node when OverrideInitiator is set
	InitiatorLogicalAddress byte
	OverrideInitiator       bool
}

// Validate checks the node for values that cannot be encoded
func (n *TargetNode) Validate() error {
	if n.Name == "" {
		return ErrEmptyName
	}
	if len(n.ReplyPath) > common.MaxReplyAddressLength {
		return fmt.Errorf("%w: node %s has %d bytes (max %d)", ErrReplyPath, n.Name, len(n.ReplyPath), common.MaxReplyAddressLength)
	}
	return nil
}

// InitiatorAddress returns the initiator logical address to use for this
// node given the engine default
func (n *TargetNode) InitiatorAddress(engineDefault byte) byte {
	if n.OverrideInitiator {
		return n.InitiatorLogicalAddress
	}
	return engineDefault
}

func (n *TargetNode) String() string {
	return fmt.Sprintf("%s (la=0x%02X key=0x%02X path=%x)", n.Name, n.LogicalAddress, n.Key, n.TargetPath)
}

// Registry is an immutable table of target nodes sorted by name
type Registry struct {
	nodes []TargetNode
}

// NewRegistry validates the nodes and builds the table. The nodes are copied.
func NewRegistry(nodes ...TargetNode) (*Registry, error) {
	sorted := make([]TargetNode, len(nodes))
	for i := range nodes {
		if err := nodes[i].Validate(); err != nil {
			return nil, err
		}
		sorted[i] = nodes[i]
		sorted[i].TargetPath = append([]byte(nil), nodes[i].TargetPath...)
		sorted[i].ReplyPath = append([]byte(nil), nodes[i].ReplyPath...)
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Name == sorted[i-1].Name {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, sorted[i].Name)
		}
	}
	return &Registry{nodes: sorted}, nil
}

// Lookup finds a node by name
func (r *Registry) Lookup(name string) (*TargetNode, bool) {
	if r == nil {
		return nil, false
	}
	i := sort.Search(len(r.nodes), func(i int) bool { return r.nodes[i].Name >= name })
	if i < len(r.nodes) && r.nodes[i].Name == name {
		return &r.nodes[i], true
	}
	return nil, false
}

// Len returns the number of nodes
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.nodes)
}

// Nodes returns the nodes in name order. The slice must not be modified.
func (r *Registry) Nodes() []TargetNode {
	if r == nil {
		return nil
	}
	return r.nodes
}
