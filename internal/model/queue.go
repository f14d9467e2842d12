package model

import (
	"encoding/json"
	"time"
)

// QueueItemStatus はキューアイテムの状態を表す。
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemInProgress QueueItemStatus = "in_progress"
	QueueItemCompleted  QueueItemStatus = "completed"
	QueueItemFailed     QueueItemStatus = "failed"
	QueueItemCanceled   QueueItemStatus = "canceled"
)

// IsFinished は終了状態かどうかを返す。
func (s QueueItemStatus) IsFinished() bool {
	return s == QueueItemCompleted || s == QueueItemFailed || s == QueueItemCanceled
}

// NodeFieldValue はバッチ投入時にノードへ注入される入力値。
type NodeFieldValue struct {
	NodePath  string          `json:"node_path"`
	FieldName string          `json:"field_name"`
	Value     json.RawMessage `json:"value"`
}

// Graph はジョブグラフを表す。中身の意味はこのサービスでは解釈しない。
type Graph struct {
	ID    string                     `json:"id"`
	Nodes map[string]json.RawMessage `json:"nodes"`
	Edges []json.RawMessage          `json:"edges"`
}

// EmptyGraph はノードもエッジも持たない空のグラフを返す。
func EmptyGraph() Graph {
	return Graph{Nodes: map[string]json.RawMessage{}, Edges: []json.RawMessage{}}
}

// ExecutionSession はキューアイテムの実行セッションを表す。
type ExecutionSession struct {
	ID                    string                     `json:"id"`
	Graph                 Graph                      `json:"graph"`
	ExecutionGraph        Graph                      `json:"execution_graph"`
	Executed              []string                   `json:"executed"`
	ExecutedHistory       []string                   `json:"executed_history"`
	Results               map[string]json.RawMessage `json:"results"`
	Errors                map[string]string          `json:"errors"`
	PreparedSourceMapping map[string]string          `json:"prepared_source_mapping"`
	SourcePreparedMapping map[string][]string        `json:"source_prepared_mapping"`
}

// EmptySession は指定IDを持つ空のセッションを返す。
// クライアントのデシリアライズが失敗しないよう、全てのコレクションは非nilで初期化する。
func EmptySession(id string) ExecutionSession {
	return ExecutionSession{
		ID:                    id,
		Graph:                 EmptyGraph(),
		ExecutionGraph:        EmptyGraph(),
		Executed:              []string{},
		ExecutedHistory:       []string{},
		Results:               map[string]json.RawMessage{},
		Errors:                map[string]string{},
		PreparedSourceMapping: map[string]string{},
		SourcePreparedMapping: map[string][]string{},
	}
}

// QueueItem はセッションキューに投入された処理単位を表す。
// FieldValues, Workflow, Session は機密フィールドであり、所有者と管理者以外には伏せる。
type QueueItem struct {
	ItemID          int64           `json:"item_id"`
	Status          QueueItemStatus `json:"status"`
	Priority        int             `json:"priority"`
	BatchID         string          `json:"batch_id"`
	SessionID       string          `json:"session_id"`
	QueueID         string          `json:"queue_id"`
	UserID          string          `json:"user_id"`
	UserDisplayName string          `json:"user_display_name,omitempty"`
	UserEmail       string          `json:"user_email,omitempty"`
	ErrorType       string          `json:"error_type,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	ErrorTraceback  string          `json:"error_traceback,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`

	FieldValues []NodeFieldValue `json:"field_values"`
	Workflow    json.RawMessage  `json:"workflow"`
	Session     ExecutionSession `json:"session"`
}

// OwnerID は所有者IDを返す。所有者が記録されていない場合はシステムユーザーとみなす。
func (q *QueueItem) OwnerID() string {
	if q.UserID == "" {
		return SystemUserID
	}
	return q.UserID
}

// Batch はキューへの一括投入要求を表す。
type Batch struct {
	BatchID     string           `json:"batch_id"`
	Graph       Graph            `json:"graph"`
	Workflow    json.RawMessage  `json:"workflow,omitempty"`
	Runs        int              `json:"runs"`
	FieldValues []NodeFieldValue `json:"field_values,omitempty"`
	Priority    int              `json:"priority"`
}

// EnqueueResult はバッチ投入の結果を表す。
type EnqueueResult struct {
	QueueID   string  `json:"queue_id"`
	BatchID   string  `json:"batch_id"`
	Enqueued  int     `json:"enqueued"`
	Requested int     `json:"requested"`
	ItemIDs   []int64 `json:"item_ids"`
	Priority  int     `json:"priority"`
}

// QueueStatus はキューの状態別件数を表す。
type QueueStatus struct {
	QueueID    string `json:"queue_id"`
	Pending    int    `json:"pending" db:"pending"`
	InProgress int    `json:"in_progress" db:"in_progress"`
	Completed  int    `json:"completed" db:"completed"`
	Failed     int    `json:"failed" db:"failed"`
	Canceled   int    `json:"canceled" db:"canceled"`
	Total      int    `json:"total" db:"total"`
}
