package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"admitHub/internal/letters"
)

// LetterHandler 暴露凭 Token 的信件公开读取。
type LetterHandler struct {
	db *gorm.DB
}

// NewLetterHandler 构造信件处理器。
func NewLetterHandler(db *gorm.DB) *LetterHandler {
	return &LetterHandler{db: db}
}

// GetByToken 返回信件正文。Token 不可猜测，端点无需认证。
func (h *LetterHandler) GetByToken(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		NotFound(c, "letter not found")
		return
	}

	letter, err := letters.FindByToken(c.Request.Context(), h.db, token)
	if err != nil {
		FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":    letter.Kind,
		"subject": letter.Subject,
		"body":    letter.Body,
	})
}
