package middleware

import (
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/pkg/httpcontext"
	"github.com/fastygo/tasksync/repository"
)

type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Identity stamps the signed-in user, if any, onto every request.
func Identity(identity repository.IdentityProvider) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if identity != nil {
				if userID := identity.CurrentUser(); userID != "" {
					ctx.SetUserValue(httpcontext.UserValueKey, userID)
				}
			}
			next(ctx)
		}
	}
}

// RequireIdentity rejects requests made while nobody is signed in.
func RequireIdentity(identity repository.IdentityProvider, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if identity == nil || identity.CurrentUser() == "" {
				logger.Debug("request without identity", zap.ByteString("path", ctx.Path()))
				ctx.Response.Header.SetContentType("application/json")
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString(`{"status":"error","code":"UNAUTHORIZED","error":"no user signed in"}`)
				return
			}
			next(ctx)
		}
	}
}

// ExtractToken returns the bearer token from the Authorization header.
func ExtractToken(ctx *fasthttp.RequestCtx) string {
	header := string(ctx.Request.Header.Peek("Authorization"))
	if header == "" {
		return ""
	}
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return header
}
