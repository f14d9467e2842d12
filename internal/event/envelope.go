package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hitoshi/jobhub/internal/model"
)

// ErrInvalidEnvelope はエンベロープの内容が不正であることを表す。
var ErrInvalidEnvelope = errors.New("invalid event envelope")

// Envelope はプロセス間でイベントを受け渡すためのJSON表現。
// 外部の処理パイプラインもこの形式でイベントを発行する。
type Envelope struct {
	Kind        Kind             `json:"kind"`
	QueueID     string           `json:"queue_id,omitempty"`
	OwnerUserID string           `json:"owner_user_id,omitempty"`
	ItemID      int64            `json:"item_id,omitempty"`
	BatchID     string           `json:"batch_id,omitempty"`
	SessionID   string           `json:"session_id,omitempty"`
	DownloadID  string           `json:"bulk_download_id,omitempty"`
	Item        *model.QueueItem `json:"queue_item,omitempty"`
	Data        map[string]any   `json:"data,omitempty"`
}

// Wrap はイベントをエンベロープに変換する。
func Wrap(evt Event) Envelope {
	switch e := evt.(type) {
	case QueueItemEvent:
		return Envelope{
			Kind:        e.EventKind,
			QueueID:     e.QueueID,
			OwnerUserID: e.OwnerUserID,
			ItemID:      e.ItemID,
			BatchID:     e.BatchID,
			SessionID:   e.SessionID,
			Item:        e.Item,
			Data:        e.Data,
		}
	case QueueEvent:
		return Envelope{Kind: e.EventKind, QueueID: e.QueueID, Data: e.Data}
	case GlobalEvent:
		return Envelope{Kind: e.EventKind, Data: e.Data}
	case BulkDownloadEvent:
		return Envelope{Kind: e.EventKind, DownloadID: e.DownloadID, Data: e.Data}
	default:
		panic(fmt.Sprintf("event: unhandled event type %T", evt))
	}
}

// Unwrap はエンベロープからイベントを復元する。
// 種別が未知の場合や、系統に必要なキーが欠けている場合はErrInvalidEnvelopeを返す。
func (env Envelope) Unwrap() (Event, error) {
	family, ok := FamilyOf(env.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, env.Kind)
	}

	switch family {
	case FamilyQueueItem:
		if env.QueueID == "" {
			return nil, fmt.Errorf("%w: %s requires queue_id", ErrInvalidEnvelope, env.Kind)
		}
		return QueueItemEvent{
			EventKind:   env.Kind,
			QueueID:     env.QueueID,
			OwnerUserID: env.OwnerUserID,
			ItemID:      env.ItemID,
			BatchID:     env.BatchID,
			SessionID:   env.SessionID,
			Item:        env.Item,
			Data:        env.Data,
		}, nil
	case FamilyQueue:
		if env.QueueID == "" {
			return nil, fmt.Errorf("%w: %s requires queue_id", ErrInvalidEnvelope, env.Kind)
		}
		return QueueEvent{EventKind: env.Kind, QueueID: env.QueueID, Data: env.Data}, nil
	case FamilyBulkDownload:
		if env.DownloadID == "" {
			return nil, fmt.Errorf("%w: %s requires bulk_download_id", ErrInvalidEnvelope, env.Kind)
		}
		return BulkDownloadEvent{EventKind: env.Kind, DownloadID: env.DownloadID, Data: env.Data}, nil
	default:
		return GlobalEvent{EventKind: env.Kind, Data: env.Data}, nil
	}
}

// Marshal はイベントをエンベロープのJSONにする。
func Marshal(evt Event) ([]byte, error) {
	return json.Marshal(Wrap(evt))
}

// Unmarshal はエンベロープのJSONからイベントを復元する。
func Unmarshal(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	return env.Unwrap()
}
