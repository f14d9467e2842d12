// Package model はドメインモデルを定義する。
package model

import "time"

// SystemUserID は匿名のシステムユーザーを表すID。
// トークン無しの接続や所有者未記録のキューアイテムに割り当てられる。
const SystemUserID = "system"

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string     `db:"user_id" json:"user_id"`
	Email        string     `db:"email" json:"email"`
	DisplayName  string     `db:"display_name" json:"display_name"`
	PasswordHash string     `db:"password_hash" json:"-"`
	IsAdmin      bool       `db:"is_admin" json:"is_admin"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
}

// Identity は認証済みの主体を表す。
// トークン検証またはログインで生成され、発行後は変更されない。
type Identity struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// SystemIdentity は匿名システムユーザーのIdentityを返す。
func SystemIdentity() Identity {
	return Identity{UserID: SystemUserID}
}

// IdentityOf はユーザーからIdentityを生成する。
func IdentityOf(u *User) Identity {
	return Identity{UserID: u.ID, Email: u.Email, IsAdmin: u.IsAdmin}
}
