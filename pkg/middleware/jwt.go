package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証済みプリンシパル（ユーザーID・組織ID・ロール・有効期限）を
// サービス間およびWebSocket接続へ伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// OrganizationID はユーザーが属する組織（テナント）の一意識別子。
	OrganizationID string `json:"organization_id"`
	// Roles はユーザーに付与されたロールの一覧。
	Roles []string `json:"roles"`
}

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// headerKeyOrganizationID はサービス間で組織IDを伝播するためのHTTPヘッダーキー。
const headerKeyOrganizationID = "X-Organization-ID"

// GenerateJWT はプリンシパル情報からJWTトークンを生成する。
// 認証基盤がログイン成功後に呼び出す。
func GenerateJWT(secret, userID, organizationID string, roles []string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "notifyhub",
		},
		UserID:         userID,
		OrganizationID: organizationID,
		Roles:          roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseToken はJWTトークンを検証し、クレームを返す。
// HTTPミドルウェアとWebSocket接続時の認証の両方から使用する。
// 署名不正・期限切れ・必須クレーム欠落の場合はエラーを返す。
func ParseToken(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("トークンの検証に失敗: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("トークンが無効です")
	}
	if claims.UserID == "" || claims.OrganizationID == "" {
		return nil, fmt.Errorf("トークンに必須クレームがありません")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "user_id"、"organization_id"、"roles" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims, err := ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("organization_id", claims.OrganizationID)
		c.Set("roles", claims.Roles)
		c.Header(headerKeyUserID, claims.UserID)
		c.Header(headerKeyOrganizationID, claims.OrganizationID)
		c.Next()
	}
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetOrganizationID はGinコンテキストから組織IDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetOrganizationID(c *gin.Context) string {
	orgID, _ := c.Get("organization_id")
	if id, ok := orgID.(string); ok {
		return id
	}
	return ""
}

// GetRoles はGinコンテキストからロール一覧を取得する。
func GetRoles(c *gin.Context) []string {
	roles, _ := c.Get("roles")
	if r, ok := roles.([]string); ok {
		return r
	}
	return nil
}
