// Package authz は所有権に基づく認可判定と、閲覧者に応じたキューアイテムの秘匿化を提供する。
package authz

import (
	"github.com/hitoshi/jobhub/internal/model"
)

// Policy は認可判定を行う。状態を持たないため並行に使用できる。
type Policy struct {
	multiuser bool
}

// NewPolicy はPolicyを生成する。
// multiuserがfalseの場合、全ての判定は許可になる。
func NewPolicy(multiuser bool) Policy {
	return Policy{multiuser: multiuser}
}

// Multiuser はマルチユーザーモードかどうかを返す。
func (p Policy) Multiuser() bool {
	return p.multiuser
}

// CanMutate はrequesterがownerIDの所有するリソースを変更できるかを返す。
// ownerIDが空の場合はシステムユーザーの所有とみなす。
func (p Policy) CanMutate(ownerID string, requester model.Identity) bool {
	if !p.multiuser {
		return true
	}
	if ownerID == "" {
		ownerID = model.SystemUserID
	}
	return requester.IsAdmin || requester.UserID == ownerID
}

// CanViewSensitive はrequesterがownerIDの所有するリソースの機密フィールドを閲覧できるかを返す。
func (p Policy) CanViewSensitive(ownerID string, requester model.Identity) bool {
	return p.CanMutate(ownerID, requester)
}

// SanitizeQueueItem は閲覧者に応じたキューアイテムの外部表現を返す。
// 閲覧権限がある場合は元のアイテムをそのまま返す。
// 無い場合は機密フィールドを空にしたコピーを返す。セッションは同じIDを持つ空のセッションに置き換える。
// 返したコピーは永続化しないこと。
func (p Policy) SanitizeQueueItem(item *model.QueueItem, requester model.Identity) *model.QueueItem {
	if item == nil {
		return nil
	}
	if p.CanViewSensitive(item.OwnerID(), requester) {
		return item
	}

	sanitized := *item
	sanitized.FieldValues = nil
	sanitized.Workflow = nil
	sanitized.Session = model.EmptySession(item.Session.ID)
	if sanitized.Session.ID == "" {
		sanitized.Session.ID = item.SessionID
	}
	return &sanitized
}

// SanitizeQueueItems はスライスの各要素にSanitizeQueueItemを適用した新しいスライスを返す。
func (p Policy) SanitizeQueueItems(items []*model.QueueItem, requester model.Identity) []*model.QueueItem {
	out := make([]*model.QueueItem, 0, len(items))
	for _, item := range items {
		out = append(out, p.SanitizeQueueItem(item, requester))
	}
	return out
}
