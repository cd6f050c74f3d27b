package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"crosspost/domain/dto"
	"crosspost/domain/model"
	"crosspost/domain/platform"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
)

type ICredentialHandler interface {
	Put(ctx *gin.Context)
	Status(ctx *gin.Context)
}

// CredentialHandler links platform tokens to an account. Responses never
// echo token material.
type CredentialHandler struct {
	store    usecase.ICredentialStore
	registry *platform.Registry
}

func NewCredentialHandler(store usecase.ICredentialStore, registry *platform.Registry) ICredentialHandler {
	return &CredentialHandler{store: store, registry: registry}
}

func (h *CredentialHandler) Put(ctx *gin.Context) {
	accountID, name, ok := h.target(ctx)
	if !ok {
		return
	}
	var req dto.CredentialRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "access_token is required"})
		return
	}
	cred := &model.OAuth2Credential{
		AccountID:        accountID,
		Platform:         name,
		AccessToken:      req.AccessToken,
		RefreshToken:     req.RefreshToken,
		ExpiresAt:        req.ExpiresAt,
		RefreshExpiresAt: req.RefreshExpiresAt,
		Raw:              req.Raw,
	}
	if err := h.store.Save(ctx.Request.Context(), cred); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, credentialStatus(cred))
}

func (h *CredentialHandler) Status(ctx *gin.Context) {
	accountID, name, ok := h.target(ctx)
	if !ok {
		return
	}
	cred, err := h.store.Get(ctx.Request.Context(), accountID, name)
	if errors.Is(err, usecase.ErrCredentialNotFound) {
		ctx.JSON(http.StatusOK, dto.CredentialStatus{AccountID: accountID, Platform: name})
		return
	}
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, credentialStatus(cred))
}

func (h *CredentialHandler) target(ctx *gin.Context) (string, string, bool) {
	if _, ok := requireUser(ctx); !ok {
		return "", "", false
	}
	accountID := ctx.Param("accountId")
	name := strings.ToLower(ctx.Param("platform"))
	if !h.registry.Has(name) {
		ctx.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "unsupported platform: " + name})
		return "", "", false
	}
	return accountID, name, true
}

func credentialStatus(cred *model.OAuth2Credential) dto.CredentialStatus {
	res := dto.CredentialStatus{
		AccountID: cred.AccountID,
		Platform:  cred.Platform,
		Linked:    true,
		Expired:   cred.Expired(time.Now()),
	}
	if !cred.ExpiresAt.IsZero() {
		at := cred.ExpiresAt
		res.ExpiresAt = &at
	}
	return res
}
