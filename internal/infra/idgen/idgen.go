package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator issues snowflake ids unique per terminal node.
type Generator struct {
	node *snowflake.Node
}

func New(nodeID int64) (*Generator, error) {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: n}, nil
}

func (g *Generator) Next() int64 { return g.node.Generate().Int64() }

func (g *Generator) NextString() string { return g.node.Generate().String() }
