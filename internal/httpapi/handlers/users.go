package handlers

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-saas/internal/auth"
	"github.com/suPer8Hu/ai-saas/internal/common"
	"github.com/suPer8Hu/ai-saas/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-saas/internal/models"
	"github.com/suPer8Hu/ai-saas/internal/store/redisstore"
)

type captchaReq struct {
	Email string `json:"email" binding:"required"`
}

type createUserReq struct {
	Email    string `json:"email"`
	Captcha  string `json:"captcha"`
	Password string `json:"password"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

type deleteAccountReq struct {
	Password string `json:"password" binding:"required"`
}

// generate a 11 digit random username
func randomUsername11() (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	out := make([]byte, 11)
	for i := 0; i < 11; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		if err != nil {
			return "", err
		}
		out[i] = letters[n.Int64()]
	}
	return string(out), nil
}

func randomCode6() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizeEmail(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return s, true
}

func (h *Handler) SendCaptcha(c *gin.Context) {
	var req captchaReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	addr, ok := normalizeEmail(req.Email)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid email")
		return
	}

	code, err := randomCode6()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20004, "failed to generate code")
		return
	}
	if err := h.Tokens.SetCaptcha(c.Request.Context(), addr, code); err != nil {
		h.logger(c).WithError(err).Error("store captcha")
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return
	}

	body := "Your verification code is " + code + ".\n\nIt expires in 10 minutes.\n"
	if err := h.Mail.SendText(addr, "Your GopherChat verification code", body); err != nil {
		h.logger(c).WithError(err).Error("send captcha email")
		common.Fail(c, http.StatusBadGateway, 50201, "failed to send email")
		return
	}
	common.OK(c, gin.H{"sent": true})
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" || req.Captcha == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email, captcha and password required")
		return
	}
	addr, ok := normalizeEmail(req.Email)
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid email")
		return
	}
	if len(req.Password) < auth.MinPasswordLen {
		common.Fail(c, http.StatusBadRequest, 10006, "password too short")
		return
	}

	// redis verification
	ctx := c.Request.Context()
	code, err := h.Tokens.GetCaptcha(ctx, addr)
	if err != nil {
		if errors.Is(err, redisstore.ErrNotFound) {
			common.Fail(c, http.StatusBadRequest, 10020, "captcha expired or not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return
	}
	if code != strings.TrimSpace(req.Captcha) {
		common.Fail(c, http.StatusBadRequest, 10021, "invalid captcha")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	// generate username to avoid conflict
	var username string
	for i := 0; i < 5; i++ {
		u, err := randomUsername11()
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 20004, "failed to generate username")
			return
		}

		var cnt int64
		if err := h.DB.WithContext(ctx).Model(&models.User{}).Where("username = ?", u).Count(&cnt).Error; err != nil {
			common.Fail(c, http.StatusInternalServerError, 20005, "failed to check username")
			return
		}
		if cnt == 0 {
			username = u
			break
		}
	}
	if username == "" {
		common.Fail(c, http.StatusInternalServerError, 20006, "failed to allocate username")
		return
	}

	user := models.User{
		Email:        addr,
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleUser,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "failed to create user (maybe email already exists)")
		return
	}
	_ = h.Tokens.DeleteCaptcha(ctx, addr)

	token, err := auth.SignJWT(user.ID, user.Role, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}

	// send welcome email
	go func(to, uname string) {
		subject := "Welcome to GopherChat, your account is ready"
		body := "Hello,\n\n" +
			"Welcome to GopherChat. Your account has been successfully created.\n\n" +
			"Username: " + uname + "\n\n" +
			"If you did not request this account, please contact our support immediately.\n\n" +
			"Best regards,\n" +
			"GopherChat\n"
		if err := h.Mail.SendText(to, subject, body); err != nil {
			h.Log.WithError(err).WithField("user_id", user.ID).Warn("welcome email")
		}
	}(user.Email, user.Username)

	common.OK(c, gin.H{
		"id":       user.ID,
		"email":    user.Email,
		"username": user.Username,
		"token":    token,
	})
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.logger(c).WithError(err).Error("load user")
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid email or password")
		return
	}

	token, err := auth.SignJWT(user.ID, user.Role, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	common.OK(c, gin.H{
		"token":      token,
		"expires_in": int64(h.Cfg.JWTTTL.Seconds()),
		"user": gin.H{
			"id":       user.ID,
			"email":    user.Email,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}

// Logout revokes the current token until it would have expired.
func (h *Handler) Logout(c *gin.Context) {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if s.TokenID != "" {
		if err := h.Tokens.Revoke(c.Request.Context(), s.TokenID, time.Until(s.ExpiresAt)); err != nil {
			h.logger(c).WithError(err).Error("revoke token")
			common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
			return
		}
	}
	common.OK(c, gin.H{"redirect": h.Cfg.SignInPath})
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, uid).Error; err != nil {
		h.failLookup(c, err, 40401, "user")
		return
	}
	common.OK(c, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"username":   user.Username,
		"role":       user.Role,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) ChangePassword(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req changePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLen {
		common.Fail(c, http.StatusBadRequest, 10006, "password too short")
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if err := h.DB.WithContext(ctx).First(&user, uid).Error; err != nil {
		h.failLookup(c, err, 40401, "user")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.OldPassword) {
		common.Fail(c, http.StatusBadRequest, 10022, "wrong password")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}
	if err := h.DB.WithContext(ctx).Model(&user).Update("password_hash", hash).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"updated": true})
}

// DeleteAccount removes the user with every chat, document, prompt and setting.
func (h *Handler) DeleteAccount(c *gin.Context) {
	s, ok := middleware.SessionFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req deleteAccountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if err := h.DB.WithContext(ctx).First(&user, s.UserID).Error; err != nil {
		h.failLookup(c, err, 40401, "user")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusBadRequest, 10022, "wrong password")
		return
	}

	if err := h.ChatSvc.DeleteUserData(ctx, user.ID); err != nil {
		h.logger(c).WithError(err).Error("delete chats")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if err := h.Settings.DeleteUserData(ctx, user.ID); err != nil {
		h.logger(c).WithError(err).Error("delete settings")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if err := h.Docs.DeleteUserData(ctx, user.ID); err != nil {
		h.logger(c).WithError(err).Error("delete documents")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if err := h.DB.WithContext(ctx).Delete(&user).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if s.TokenID != "" {
		_ = h.Tokens.Revoke(ctx, s.TokenID, time.Until(s.ExpiresAt))
	}
	common.OK(c, gin.H{"deleted": true, "redirect": h.Cfg.SignInPath})
}
