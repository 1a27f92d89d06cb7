package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/pdf-toolkit/internal/users"
)

// ListUsers は利用者一覧を返す管理者用ハンドラーです。
func (m *Manager) ListUsers(c *gin.Context) {
	list, err := m.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_LOOKUP_FAILED",
			"message": "ユーザー一覧の取得に失敗しました",
		})
		return
	}
	resp := make([]map[string]any, 0, len(list))
	for _, u := range list {
		resp = append(resp, u.Public())
	}
	c.JSON(http.StatusOK, gin.H{"users": resp})
}

type addUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AddUser は利用者を新規作成します。権限は既定値から始まります。
func (m *Manager) AddUser(c *gin.Context) {
	var req addUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "ユーザー名とパスワードを入力してください",
		})
		return
	}

	ctx := c.Request.Context()
	exists, err := m.store.Exists(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_LOOKUP_FAILED",
			"message": "ユーザー情報の確認に失敗しました",
		})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{
			"code":    "USER_EXISTS",
			"message": "同名のユーザーが既に存在します",
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "PASSWORD_HASH_FAILED",
			"message": "パスワードの保存に失敗しました",
		})
		return
	}

	user := users.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         users.RoleUser,
		Permissions:  users.DefaultPermissions(),
	}
	if err := m.store.Save(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_SAVE_FAILED",
			"message": "ユーザーの保存に失敗しました",
		})
		return
	}
	c.JSON(http.StatusCreated, user.Public())
}

// DeleteUser は利用者を削除します。自分自身と最後の管理者は削除できません。
func (m *Manager) DeleteUser(c *gin.Context) {
	target := c.Param("username")
	current, _ := CurrentUser(c)
	if target == current.Username {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "自分自身は削除できません",
		})
		return
	}

	ctx := c.Request.Context()
	user, err := m.store.Get(ctx, target)
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "USER_NOT_FOUND",
			"message": "指定されたユーザーが存在しません",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_LOOKUP_FAILED",
			"message": "ユーザー情報の取得に失敗しました",
		})
		return
	}

	if user.IsAdmin() {
		if last, lerr := m.isLastAdmin(c, target); lerr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "USER_LOOKUP_FAILED",
				"message": "ユーザー一覧の取得に失敗しました",
			})
			return
		} else if last {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "最後の管理者は削除できません",
			})
			return
		}
	}

	if err := m.store.Delete(ctx, target); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_SAVE_FAILED",
			"message": "ユーザーの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

type changePasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// ChangePassword は利用者のパスワードを再設定します。
func (m *Manager) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "新しいパスワードを入力してください",
		})
		return
	}

	ctx := c.Request.Context()
	user, err := m.store.Get(ctx, c.Param("username"))
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "USER_NOT_FOUND",
			"message": "指定されたユーザーが存在しません",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_LOOKUP_FAILED",
			"message": "ユーザー情報の取得に失敗しました",
		})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "PASSWORD_HASH_FAILED",
			"message": "パスワードの保存に失敗しました",
		})
		return
	}
	user.PasswordHash = string(hash)
	if err := m.store.Save(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_SAVE_FAILED",
			"message": "ユーザーの保存に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdatePermissions は利用者の権限フラグを更新します。管理者の権限は
// 常に全権限で固定のため変更できません。
func (m *Manager) UpdatePermissions(c *gin.Context) {
	var req users.Permissions
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "権限フラグを JSON で送ってください",
		})
		return
	}

	ctx := c.Request.Context()
	user, err := m.store.Get(ctx, c.Param("username"))
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "USER_NOT_FOUND",
			"message": "指定されたユーザーが存在しません",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_LOOKUP_FAILED",
			"message": "ユーザー情報の取得に失敗しました",
		})
		return
	}
	if user.IsAdmin() {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "管理者の権限は変更できません",
		})
		return
	}

	user.Permissions = req
	if err := m.store.Save(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "USER_SAVE_FAILED",
			"message": "ユーザーの保存に失敗しました",
		})
		return
	}
	c.JSON(http.StatusOK, user.Public())
}

func (m *Manager) isLastAdmin(c *gin.Context, username string) (bool, error) {
	list, err := m.store.List(c.Request.Context())
	if err != nil {
		return false, err
	}
	for _, u := range list {
		if u.IsAdmin() && u.Username != username {
			return false, nil
		}
	}
	return true, nil
}
