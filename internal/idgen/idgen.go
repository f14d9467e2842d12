// Package idgen はエンティティの識別子を生成する。
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewConnectionID は時刻順に並ぶリアルタイム接続IDを生成する。
func NewConnectionID() string {
	return ksuid.New().String()
}

// ItemIDs はキューアイテムIDを採番する。
// 複数インスタンスで採番する場合はノード番号を重複させないこと。
type ItemIDs struct {
	node *snowflake.Node
}

// NewItemIDs はノード番号nodeIDのItemIDsを生成する。nodeIDは0から1023。
func NewItemIDs(nodeID int64) (*ItemIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &ItemIDs{node: node}, nil
}

// Next は新しいアイテムIDを返す。単調増加する。
func (g *ItemIDs) Next() int64 {
	return g.node.Generate().Int64()
}
