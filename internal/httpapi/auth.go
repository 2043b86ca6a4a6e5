package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const djIDContextKey = "dj_id"

// bearerAuth verifies an HS256 bearer token and stores its subject as the DJ id.
func bearerAuth(signingKey []byte, issuer string) gin.HandlerFunc {
	parserOptions := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		rawToken, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(rawToken) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(strings.TrimSpace(rawToken), claims, func(token *jwt.Token) (interface{}, error) {
			return signingKey, nil
		}, parserOptions...)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		djID, err := djrequest.NewDJID(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "token has no subject"))
			return
		}
		ctx.Set(djIDContextKey, djID)
		ctx.Next()
	}
}

func currentDJ(ctx *gin.Context) djrequest.DJID {
	value, _ := ctx.Get(djIDContextKey)
	djID, _ := value.(djrequest.DJID)
	return djID
}
