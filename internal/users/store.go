package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// usersKey は利用者一覧を保持する Redis ハッシュのキーです。
// フィールドがユーザー名、値が JSON です。
const usersKey = "pdftoolkit:users"

// ErrUserNotFound は指定した利用者が存在しない場合に返されます。
var ErrUserNotFound = errors.New("指定されたユーザーが存在しません")

// Store は Redis を背後に持つ利用者ストアです。
type Store struct {
	client *redis.Client
}

// NewStore は利用者ストアを作成します。
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// storedPermissions は保存済み JSON の権限部分です。旧バージョンには
// 存在しないフラグがあるため、欠損を検出できるようポインタで受けます。
type storedPermissions struct {
	CanCompressBatch *bool `json:"canCompressBatch"`
	CanDownloadBatch *bool `json:"canDownloadBatch"`
	CanMerge         *bool `json:"canMerge"`
	CanConvertToPdf  *bool `json:"canConvertToPdf"`
	CanEnhanceImage  *bool `json:"canEnhanceImage"`
	CanExtract       *bool `json:"canExtract"`
}

type storedUser struct {
	Username     string            `json:"username"`
	PasswordHash string            `json:"passwordHash"`
	Role         Role              `json:"role"`
	Permissions  storedPermissions `json:"permissions"`
}

// migrate は保存済みレコードを現行の User に変換します。欠損している
// 権限フラグには既定値を補い、管理者には常に全権限を与えます。
func migrate(su storedUser) User {
	u := User{
		Username:     su.Username,
		PasswordHash: su.PasswordHash,
		Role:         su.Role,
	}
	if u.Role != RoleAdmin && u.Role != RoleUser {
		u.Role = RoleUser
	}
	if u.Role == RoleAdmin {
		u.Permissions = FullPermissions()
		return u
	}
	defaults := DefaultPermissions()
	u.Permissions = Permissions{
		CanCompressBatch: boolOr(su.Permissions.CanCompressBatch, defaults.CanCompressBatch),
		CanDownloadBatch: boolOr(su.Permissions.CanDownloadBatch, defaults.CanDownloadBatch),
		CanMerge:         boolOr(su.Permissions.CanMerge, defaults.CanMerge),
		CanConvertToPdf:  boolOr(su.Permissions.CanConvertToPdf, defaults.CanConvertToPdf),
		CanEnhanceImage:  boolOr(su.Permissions.CanEnhanceImage, defaults.CanEnhanceImage),
		// 抽出フラグは後から追加されたため、欠損時は有効として扱います。
		CanExtract: boolOr(su.Permissions.CanExtract, true),
	}
	return u
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

// Get は利用者を1件取得します。
func (s *Store) Get(ctx context.Context, username string) (User, error) {
	data, err := s.client.HGet(ctx, usersKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	var su storedUser
	if err := json.Unmarshal([]byte(data), &su); err != nil {
		return User{}, fmt.Errorf("ユーザー情報の解析に失敗しました: %w", err)
	}
	su.Username = username
	return migrate(su), nil
}

// List は全利用者をユーザー名順で返します。
func (s *Store) List(ctx context.Context) ([]User, error) {
	entries, err := s.client.HGetAll(ctx, usersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	users := make([]User, 0, len(entries))
	for name, data := range entries {
		var su storedUser
		if err := json.Unmarshal([]byte(data), &su); err != nil {
			continue
		}
		su.Username = name
		users = append(users, migrate(su))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Save は利用者を作成または更新します。
func (s *Store) Save(ctx context.Context, u User) error {
	if u.Username == "" {
		return errors.New("ユーザー名が指定されていません")
	}
	if u.Role == RoleAdmin {
		u.Permissions = FullPermissions()
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("ユーザー情報の保存形式への変換に失敗しました: %w", err)
	}
	if err := s.client.HSet(ctx, usersKey, u.Username, data).Err(); err != nil {
		return fmt.Errorf("ユーザーの保存に失敗しました: %w", err)
	}
	return nil
}

// Delete は利用者を削除します。存在しない場合は ErrUserNotFound を返します。
func (s *Store) Delete(ctx context.Context, username string) error {
	removed, err := s.client.HDel(ctx, usersKey, username).Result()
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}
	if removed == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Exists は利用者が存在するかどうかを返します。
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	ok, err := s.client.HExists(ctx, usersKey, username).Result()
	if err != nil {
		return false, fmt.Errorf("ユーザーの確認に失敗しました: %w", err)
	}
	return ok, nil
}

// Seed は利用者が1人もいない場合に管理者アカウントを作成します。
// passwordHash は bcrypt ハッシュをそのまま渡します。
func (s *Store) Seed(ctx context.Context, username, passwordHash string) error {
	count, err := s.client.HLen(ctx, usersKey).Result()
	if err != nil {
		return fmt.Errorf("ユーザー数の取得に失敗しました: %w", err)
	}
	if count > 0 {
		return nil
	}
	admin := User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         RoleAdmin,
		Permissions:  FullPermissions(),
	}
	return s.Save(ctx, admin)
}
