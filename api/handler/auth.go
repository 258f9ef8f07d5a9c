package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/tasksync/api/transport"
	"github.com/fastygo/tasksync/domain"
	"github.com/fastygo/tasksync/internal/middleware"
	"github.com/fastygo/tasksync/pkg/httpcontext"
	authUC "github.com/fastygo/tasksync/usecase/auth"
)

type AuthHandler struct {
	baseHandler
	provider *authUC.Provider
}

func NewAuthHandler(provider *authUC.Provider, adapter *httpcontext.Adapter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		provider:    provider,
	}
}

// @Summary Sign in with a signed token
// @Tags auth
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(ctx *fasthttp.RequestCtx) {
	var req transport.LoginRequest
	if len(ctx.PostBody()) > 0 && !h.decode(ctx, &req) {
		return
	}
	if req.Token == "" {
		req.Token = middleware.ExtractToken(ctx)
	}
	if req.Token == "" {
		h.respondError(ctx, domain.NewError(domain.ErrCodeInvalid, "missing token"))
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	session, err := h.provider.SignIn(stdCtx, req.Token)
	if err != nil {
		h.logFor(stdCtx).Warn("sign in rejected", zap.Error(err))
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.SessionView{UserID: session.UserID, ExpiresAt: session.ExpiresAt})
}

// @Summary Sign out; local data is kept
// @Tags auth
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.provider.SignOut(stdCtx); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, nil)
}

// @Summary Extend the current session
// @Tags auth
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(ctx *fasthttp.RequestCtx) {
	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.provider.Refresh(stdCtx); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, nil)
}
