package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

// Auth validates HS256 bearer tokens and sets user_id for the handlers.
// Browsers cannot attach headers to an EventSource, so the access_token
// query parameter is accepted as well.
func Auth(secretKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		res := dto.Res{ResponseCode: "401", ResponseMessage: "Unauthorized"}

		raw := bearerToken(ctx)
		if raw == "" || secretKey == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		userClaims, err := getClaim(raw, secretKey)
		if err != nil {
			res.ResponseMessage = rejection(err)
			logger.GetLogger().WithField("path", ctx.FullPath()).WithField("reason", res.ResponseMessage).Debug("token rejected")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		userID := userClaims.Issuer
		if userID == "" {
			userID = userClaims.UserName
		}
		if userID == "" {
			res.ResponseMessage = "Token carries no user"
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		ctx.Set("user_id", userID)
		ctx.Next()
	}
}

func bearerToken(ctx *gin.Context) string {
	authorization := ctx.GetHeader("Authorization")
	if authorization != "" {
		auth := strings.SplitN(authorization, " ", 2)
		if len(auth) != 2 || !strings.EqualFold(auth[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(auth[1])
	}
	return ctx.Query("access_token")
}

func rejection(err error) string {
	var ve *jwt.ValidationError
	if errors.As(err, &ve) {
		switch {
		case ve.Errors&jwt.ValidationErrorMalformed != 0:
			return "That's not even a token"
		case ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0:
			return "Timing is everything"
		}
	}
	return fmt.Sprintf("Couldn't handle this token: %v", err)
}

func getClaim(raw, secretKey string) (model.UserClaims, error) {
	var userClaims model.UserClaims
	_, err := jwt.ParseWithClaims(raw, &userClaims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	return userClaims, err
}
