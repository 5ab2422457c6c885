package auth

import (
	"fmt"
	"os"

	"mpserver/models"

	jwt "github.com/dgrijalva/jwt-go"
)

// JwtKey はプレイヤートークンの署名鍵です。環境変数で必ず上書きすること。
var JwtKey = []byte(jwtKeyFromEnv())

func jwtKeyFromEnv() string {
	if key := os.Getenv("MP_JWT_KEY"); key != "" {
		return key
	}
	return "dev-only-secret"
}

func IsValidToken(tokenString string) (bool, error) {
	claims := &models.MyClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return JwtKey, nil
	})

	if err != nil {
		return false, err
	}

	return token.Valid, nil
}

// ParseClaims はトークンを検証してクレームを取り出します。
func ParseClaims(tokenString string) (*models.MyClaims, error) {
	claims := &models.MyClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return JwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token validation failed")
	}
	return claims, nil
}
