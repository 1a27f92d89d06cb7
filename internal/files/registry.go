package files

import (
	"sync"
	"time"
)

// Registry はアクティブなジョブ集合を表示順を保って保持します。
// すべての更新はジョブIDを起点とし、既に削除されたIDに対する更新は
// 黙って無視されます。処理中に削除されたジョブの完了通知が
// レコードを復活させないためのルールです。
type Registry struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*File
	now   func() time.Time
}

// NewRegistry は空の Registry を作成します。
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*File),
		now:  time.Now,
	}
}

// Add はレコードを表示順の末尾に追加します。
func (r *Registry) Add(f File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[f.ID]; exists {
		return
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = r.now().UTC()
	}
	stored := f.Clone()
	r.byID[f.ID] = &stored
	r.order = append(r.order, f.ID)
}

// Get はレコードのコピーを返します。存在しない場合は ok=false です。
func (r *Registry) Get(id string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byID[id]
	if !ok {
		return File{}, false
	}
	return f.Clone(), true
}

// List は表示順のレコード一覧をコピーで返します。
func (r *Registry) List() []File {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]File, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

// Remove はレコードを集合から取り除き、削除されたコピーを返します。
// 呼び出し側が所有リソース（入力ファイル・成果物）を解放します。
func (r *Registry) Remove(id string) (File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byID[id]
	if !ok {
		return File{}, false
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return f.Clone(), true
}

// Clear は全レコードを取り除き、削除されたコピー一覧を返します。
func (r *Registry) Clear() []File {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]File, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	r.order = nil
	r.byID = make(map[string]*File)
	return out
}

// Update は存在するレコードに対して mutate を適用します。
// レコードが既に削除されていた場合は何もせず false を返します。
func (r *Registry) Update(id string, mutate func(*File)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.byID[id]
	if !ok {
		return false
	}
	mutate(f)
	return true
}

// SetProcessing はジョブを処理中へ遷移させます。進捗は0へ戻し、
// 前回の失敗情報をクリアします。
func (r *Registry) SetProcessing(id string) bool {
	return r.Update(id, func(f *File) {
		f.Status = StatusProcessing
		f.Progress = 0
		f.ErrorCode = ""
		f.ErrorMessage = ""
	})
}

// SetProgress は進捗を更新します。1回の実行内で進捗が後退しないよう、
// 現在値未満の報告は無視します。
func (r *Registry) SetProgress(id string, percent int) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return r.Update(id, func(f *File) {
		if f.Status == StatusProcessing && percent > f.Progress {
			f.Progress = percent
		}
	})
}

// SetDone はジョブを完了へ遷移させ、成果物の参照とサイズを記録します。
func (r *Registry) SetDone(id, artifactPath string, derivedSize int64) bool {
	return r.Update(id, func(f *File) {
		f.Status = StatusDone
		f.Progress = 100
		f.ArtifactPath = artifactPath
		f.DerivedSize = derivedSize
	})
}

// SetError はジョブを失敗へ遷移させます。進捗は0へ戻します。
func (r *Registry) SetError(id, code, message string) bool {
	return r.Update(id, func(f *File) {
		f.Status = StatusError
		f.Progress = 0
		f.DerivedSize = 0
		f.ArtifactPath = ""
		f.ErrorCode = code
		f.ErrorMessage = message
	})
}

// SetPageCount はアップロード後に判明したページ数を補います。
func (r *Registry) SetPageCount(id string, pages int) bool {
	return r.Update(id, func(f *File) {
		f.PageCount = pages
	})
}

// SetPageSelection は抽出用のページ範囲式を更新します。
func (r *Registry) SetPageSelection(id, expr string) bool {
	return r.Update(id, func(f *File) {
		f.PageSelection = expr
	})
}

// AppendEnhancement は補正履歴へ1件追記し、成果物参照を最新へ付け替えます。
func (r *Registry) AppendEnhancement(id string, step EnhancementStep) bool {
	return r.Update(id, func(f *File) {
		f.EnhancementTrail = append(f.EnhancementTrail, step)
		f.Status = StatusDone
		f.Progress = 100
		f.ArtifactPath = step.ArtifactPath
		f.DerivedSize = step.ArtifactSize
	})
}

// SnapshotWaiting は指定IDのうち現在 waiting のレコードを表示順で
// コピーとして返します。バッチ実行は開始時点のこのスナップショットに
// 対して行い、実行中の集合の変化には追従しません。
func (r *Registry) SnapshotWaiting(ids []string) []File {
	r.mu.Lock()
	defer r.mu.Unlock()
	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}
	out := make([]File, 0, len(ids))
	for _, id := range r.order {
		if _, ok := requested[id]; !ok {
			continue
		}
		f := r.byID[id]
		if f.Status == StatusWaiting {
			out = append(out, f.Clone())
		}
	}
	return out
}

// SnapshotByIDs は指定IDのレコードを状態を問わず表示順で返します。
func (r *Registry) SnapshotByIDs(ids []string) []File {
	r.mu.Lock()
	defer r.mu.Unlock()
	requested := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}
	out := make([]File, 0, len(ids))
	for _, id := range r.order {
		if _, ok := requested[id]; ok {
			out = append(out, r.byID[id].Clone())
		}
	}
	return out
}
