package model

import "sort"

// PredictionTask はバックエンドで実行中の予測タスクの進捗を表す。
type PredictionTask struct {
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	Description string `json:"description"`
}

// Progress は完了率（0〜100）を返す。失敗したタスクも処理済みとして数える。
func (t PredictionTask) Progress() int {
	if t.Total <= 0 {
		return 0
	}
	done := t.Completed + t.Failed
	// 四捨五入
	return (done*200 + t.Total) / (2 * t.Total)
}

// Processed は処理済み件数（完了+失敗）を返す。
func (t PredictionTask) Processed() int {
	return t.Completed + t.Failed
}

// PredictionStatus はバックグラウンド予測タスクの状態スナップショット。
type PredictionStatus struct {
	HasActiveTasks bool                      `json:"has_active_tasks"`
	ActiveTasks    map[string]PredictionTask `json:"active_tasks"`
}

// FirstActiveTask はバナーに表示するタスクを返す。
// アクティブなタスクがない場合はfalseを返す。キー順で先頭のタスクを選ぶ。
func (s *PredictionStatus) FirstActiveTask() (PredictionTask, bool) {
	if s == nil || !s.HasActiveTasks || len(s.ActiveTasks) == 0 {
		return PredictionTask{}, false
	}
	keys := make([]string, 0, len(s.ActiveTasks))
	for k := range s.ActiveTasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.ActiveTasks[keys[0]], true
}
