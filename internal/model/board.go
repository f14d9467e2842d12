package model

import "time"

// Board は画像をまとめるボードを表す。
type Board struct {
	ID        string    `db:"board_id" json:"board_id"`
	Name      string    `db:"board_name" json:"board_name"`
	UserID    string    `db:"user_id" json:"user_id"`
	Archived  bool      `db:"archived" json:"archived"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BoardChanges はボード更新時の変更内容を表す。nilのフィールドは変更しない。
type BoardChanges struct {
	Name     *string `json:"board_name,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}
