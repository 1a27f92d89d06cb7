package users

// Role は利用者の役割です。管理者のみ利用者管理 API を操作できます。
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User は保存される利用者情報です。パスワードは bcrypt ハッシュのみ保持します。
type User struct {
	Username     string      `json:"username"`
	PasswordHash string      `json:"passwordHash"`
	Role         Role        `json:"role"`
	Permissions  Permissions `json:"permissions"`
}

// IsAdmin は管理者かどうかを返します。
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Public は API 応答用にパスワードハッシュを除いた表現を返します。
func (u User) Public() map[string]any {
	return map[string]any{
		"username":    u.Username,
		"role":        u.Role,
		"permissions": u.Permissions,
	}
}
