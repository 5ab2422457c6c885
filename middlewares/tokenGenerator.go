package middlewares

import (
	"time"

	"mpserver/auth"
	"mpserver/models"

	jwt "github.com/dgrijalva/jwt-go"
)

// GenerateToken は登録済みプレイヤー向けのJWTを発行します。
// WebSocketのidentifyとプレイヤー向けAPIで使用します。
func GenerateToken(playerID, sessionID string) (string, error) {
	expirationTime := time.Now().Add(72 * time.Hour)

	// JWTトークン生成時に内包するデータ
	claims := &models.MyClaims{
		PlayerID:  playerID,
		SessionID: sessionID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(auth.JwtKey)
}
