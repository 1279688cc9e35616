package middleware

import (
	"bytes"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// EnsureUTF8Body 将非 UTF-8 的请求体按 GBK 解码
// Windows 中文环境下的 curl 默认以 GBK 发送查询文本，Token 计数需要正确的 UTF-8
func EnsureUTF8Body() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.ContentLength == 0 {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		c.Request.Body.Close()
		if err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		if !utf8.Valid(body) {
			if decoded, err := decodeGBK(body); err == nil && utf8.Valid(decoded) {
				body = decoded
				c.Request.ContentLength = int64(len(body))
			}
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

func decodeGBK(b []byte) ([]byte, error) {
	return io.ReadAll(transform.NewReader(bytes.NewReader(b), simplifiedchinese.GBK.NewDecoder()))
}
