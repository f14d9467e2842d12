// Package event は処理パイプラインから配信されるドメインイベントを定義する。
//
// Event は閉じた直和型で、パッケージ外で新しい種別を実装することはできない。
// 配信戦略はイベントの型によって一意に決まる。
package event

import (
	"github.com/hitoshi/jobhub/internal/model"
)

// Family はイベントの系統を表し、配信戦略を決める。
type Family string

const (
	// FamilyQueueItem はキューアイテム単位のイベント。所有者と管理者にのみ配信する。
	FamilyQueueItem Family = "queue_item"
	// FamilyQueue はキュー単位のイベント。キューのルーム全員に配信する。
	FamilyQueue Family = "queue"
	// FamilyGlobal はモデルやダウンロードのイベント。全接続に配信する。
	FamilyGlobal Family = "global"
	// FamilyBulkDownload は一括ダウンロードのイベント。ダウンロードのルーム全員に配信する。
	FamilyBulkDownload Family = "bulk_download"
)

// Kind はクライアントに送るイベント名。
type Kind string

// キューアイテムイベント
const (
	InvocationStarted      Kind = "invocation_started"
	InvocationProgress     Kind = "invocation_progress"
	InvocationComplete     Kind = "invocation_complete"
	InvocationError        Kind = "invocation_error"
	QueueItemStatusChanged Kind = "queue_item_status_changed"
)

// キューイベント
const (
	BatchEnqueued Kind = "batch_enqueued"
	QueueCleared  Kind = "queue_cleared"
)

// グローバルイベント
const (
	DownloadStarted               Kind = "download_started"
	DownloadProgress              Kind = "download_progress"
	DownloadComplete              Kind = "download_complete"
	DownloadCancelled             Kind = "download_cancelled"
	DownloadError                 Kind = "download_error"
	ModelLoadStarted              Kind = "model_load_started"
	ModelLoadComplete             Kind = "model_load_complete"
	ModelInstallDownloadStarted   Kind = "model_install_download_started"
	ModelInstallDownloadProgress  Kind = "model_install_download_progress"
	ModelInstallDownloadsComplete Kind = "model_install_downloads_complete"
	ModelInstallStarted           Kind = "model_install_started"
	ModelInstallComplete          Kind = "model_install_complete"
	ModelInstallCancelled         Kind = "model_install_cancelled"
	ModelInstallError             Kind = "model_install_error"
)

// 一括ダウンロードイベント
const (
	BulkDownloadStarted  Kind = "bulk_download_started"
	BulkDownloadComplete Kind = "bulk_download_complete"
	BulkDownloadError    Kind = "bulk_download_error"
)

var kindFamilies = map[Kind]Family{
	InvocationStarted:      FamilyQueueItem,
	InvocationProgress:     FamilyQueueItem,
	InvocationComplete:     FamilyQueueItem,
	InvocationError:        FamilyQueueItem,
	QueueItemStatusChanged: FamilyQueueItem,

	BatchEnqueued: FamilyQueue,
	QueueCleared:  FamilyQueue,

	DownloadStarted:               FamilyGlobal,
	DownloadProgress:              FamilyGlobal,
	DownloadComplete:              FamilyGlobal,
	DownloadCancelled:             FamilyGlobal,
	DownloadError:                 FamilyGlobal,
	ModelLoadStarted:              FamilyGlobal,
	ModelLoadComplete:             FamilyGlobal,
	ModelInstallDownloadStarted:   FamilyGlobal,
	ModelInstallDownloadProgress:  FamilyGlobal,
	ModelInstallDownloadsComplete: FamilyGlobal,
	ModelInstallStarted:           FamilyGlobal,
	ModelInstallComplete:          FamilyGlobal,
	ModelInstallCancelled:         FamilyGlobal,
	ModelInstallError:             FamilyGlobal,

	BulkDownloadStarted:  FamilyBulkDownload,
	BulkDownloadComplete: FamilyBulkDownload,
	BulkDownloadError:    FamilyBulkDownload,
}

// FamilyOf は種別が属する系統を返す。未知の種別の場合はfalseを返す。
func FamilyOf(k Kind) (Family, bool) {
	f, ok := kindFamilies[k]
	return f, ok
}

// Event はドメインイベント。実装はこのパッケージの4つの型に限られる。
type Event interface {
	Kind() Kind
	Family() Family
	// Payload はクライアントに送るJSON化可能なデータを返す。
	Payload() map[string]any
	sealed()
}

// QueueItemEvent はキューアイテム単位のイベント。
// Itemを含む場合、受信者ごとに秘匿化してから配信する。
type QueueItemEvent struct {
	EventKind   Kind
	QueueID     string
	OwnerUserID string
	ItemID      int64
	BatchID     string
	SessionID   string
	Item        *model.QueueItem
	Data        map[string]any
}

func (e QueueItemEvent) Kind() Kind     { return e.EventKind }
func (e QueueItemEvent) Family() Family { return FamilyQueueItem }
func (QueueItemEvent) sealed()          {}

// Owner は所有者IDを返す。記録が無い場合はシステムユーザーとみなす。
func (e QueueItemEvent) Owner() string {
	if e.OwnerUserID == "" {
		return model.SystemUserID
	}
	return e.OwnerUserID
}

// WithItem はItemを差し替えたコピーを返す。
func (e QueueItemEvent) WithItem(item *model.QueueItem) QueueItemEvent {
	e.Item = item
	return e
}

func (e QueueItemEvent) Payload() map[string]any {
	p := copyData(e.Data)
	p["queue_id"] = e.QueueID
	p["item_id"] = e.ItemID
	p["batch_id"] = e.BatchID
	p["session_id"] = e.SessionID
	p["user_id"] = e.Owner()
	if e.Item != nil {
		p["queue_item"] = e.Item
	}
	return p
}

// QueueEvent はキュー単位のイベント。
type QueueEvent struct {
	EventKind Kind
	QueueID   string
	Data      map[string]any
}

func (e QueueEvent) Kind() Kind     { return e.EventKind }
func (e QueueEvent) Family() Family { return FamilyQueue }
func (QueueEvent) sealed()          {}

func (e QueueEvent) Payload() map[string]any {
	p := copyData(e.Data)
	p["queue_id"] = e.QueueID
	return p
}

// GlobalEvent は所有者を持たないモデル・ダウンロードのイベント。
type GlobalEvent struct {
	EventKind Kind
	Data      map[string]any
}

func (e GlobalEvent) Kind() Kind     { return e.EventKind }
func (e GlobalEvent) Family() Family { return FamilyGlobal }
func (GlobalEvent) sealed()          {}

func (e GlobalEvent) Payload() map[string]any {
	return copyData(e.Data)
}

// BulkDownloadEvent は一括ダウンロードのイベント。
type BulkDownloadEvent struct {
	EventKind  Kind
	DownloadID string
	Data       map[string]any
}

func (e BulkDownloadEvent) Kind() Kind     { return e.EventKind }
func (e BulkDownloadEvent) Family() Family { return FamilyBulkDownload }
func (BulkDownloadEvent) sealed()          {}

func (e BulkDownloadEvent) Payload() map[string]any {
	p := copyData(e.Data)
	p["bulk_download_id"] = e.DownloadID
	return p
}

func copyData(data map[string]any) map[string]any {
	p := make(map[string]any, len(data)+6)
	for k, v := range data {
		p[k] = v
	}
	return p
}
