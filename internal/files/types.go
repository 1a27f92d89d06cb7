// Package files はアップロードファイルのジョブ状態と一覧を管理します。
package files

import "time"

// Status はジョブの処理状態を表します。
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// EnhancementStep はAI画像補正1回分の履歴エントリです。
type EnhancementStep struct {
	Prompt       string `json:"prompt"`
	ArtifactPath string `json:"-"`
	ArtifactSize int64  `json:"artifactSize"`
}

// File はユーザーがアップロードした1ファイルのジョブ状態を表します。
// SourcePath と ArtifactPath が指す実体はこのレコードが排他的に所有し、
// レコードの削除時に解放されます。
type File struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`

	// SourcePath は入力ファイルの保存先です。作成後に変わりません。
	SourcePath   string `json:"-"`
	OriginalSize int64  `json:"originalSize"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	// DerivedSize と ArtifactPath は Status が done のときにのみ設定されます。
	DerivedSize  int64  `json:"derivedSize,omitempty"`
	ArtifactPath string `json:"-"`

	// PageCount はPDF入力に対してアップロード後に非同期で補われます。
	PageCount int `json:"pageCount,omitempty"`

	// PageSelection は抽出操作で使うページ範囲式です。ユーザーが随時編集します。
	PageSelection string `json:"pageSelection,omitempty"`

	// EnhancementTrail は追記専用のAI補正履歴です。
	EnhancementTrail []EnhancementStep `json:"enhancementTrail,omitempty"`

	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Clone はレコードの独立したコピーを返します。
func (f *File) Clone() File {
	c := *f
	if f.EnhancementTrail != nil {
		c.EnhancementTrail = append([]EnhancementStep(nil), f.EnhancementTrail...)
	}
	return c
}

// LatestArtifact は補正履歴の最新エントリを返します。履歴が空なら nil です。
func (f *File) LatestArtifact() *EnhancementStep {
	if len(f.EnhancementTrail) == 0 {
		return nil
	}
	step := f.EnhancementTrail[len(f.EnhancementTrail)-1]
	return &step
}
