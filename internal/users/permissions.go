// Package users は利用者と権限フラグの管理機能を提供します。
package users

// Capability はバッチ操作1つを許可する権限フラグの名前です。
// フラグ間に包含関係はありません。
type Capability string

const (
	CapabilityCompressBatch Capability = "compressBatch"
	CapabilityDownloadBatch Capability = "downloadBatch"
	CapabilityMerge         Capability = "merge"
	CapabilityConvertToPdf  Capability = "convertToPdf"
	CapabilityEnhanceImage  Capability = "enhanceImage"
	CapabilityExtract       Capability = "extract"
)

// Permissions は利用者1人分の権限フラグ一式です。
type Permissions struct {
	CanCompressBatch bool `json:"canCompressBatch"`
	CanDownloadBatch bool `json:"canDownloadBatch"`
	CanMerge         bool `json:"canMerge"`
	CanConvertToPdf  bool `json:"canConvertToPdf"`
	CanEnhanceImage  bool `json:"canEnhanceImage"`
	CanExtract       bool `json:"canExtract"`
}

// Allows は指定の権限を持つかどうかを返します。未知の権限は常に false です。
func (p Permissions) Allows(c Capability) bool {
	switch c {
	case CapabilityCompressBatch:
		return p.CanCompressBatch
	case CapabilityDownloadBatch:
		return p.CanDownloadBatch
	case CapabilityMerge:
		return p.CanMerge
	case CapabilityConvertToPdf:
		return p.CanConvertToPdf
	case CapabilityEnhanceImage:
		return p.CanEnhanceImage
	case CapabilityExtract:
		return p.CanExtract
	default:
		return false
	}
}

// DefaultPermissions は管理者が新規作成した利用者の初期権限です。
// バッチダウンロードのみ既定で無効です。
func DefaultPermissions() Permissions {
	return Permissions{
		CanCompressBatch: true,
		CanDownloadBatch: false,
		CanMerge:         true,
		CanConvertToPdf:  true,
		CanEnhanceImage:  true,
		CanExtract:       true,
	}
}

// FullPermissions は管理者用の全権限です。
func FullPermissions() Permissions {
	return Permissions{
		CanCompressBatch: true,
		CanDownloadBatch: true,
		CanMerge:         true,
		CanConvertToPdf:  true,
		CanEnhanceImage:  true,
		CanExtract:       true,
	}
}
