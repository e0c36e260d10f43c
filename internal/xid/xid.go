package xid

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out bill numbers that sort by creation time.
type Generator struct {
	node   *snowflake.Node
	prefix string
}

func New(nodeID int64, prefix string) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node, prefix: prefix}, nil
}

func (g *Generator) Next() string {
	id := g.node.Generate()
	if g.prefix == "" {
		return id.String()
	}
	return g.prefix + "-" + id.String()
}
