package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/internal/discovery"
	"github.com/yairfalse/kartta/internal/journal"
	"github.com/yairfalse/kartta/pkg/resource"
	"github.com/yairfalse/kartta/storage"
)

// ══════════════════════════════════════════════════════════════════════════════
// Discovery
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) triggerDiscovery(c *gin.Context) {
	summary, err := s.deps.Discovery.DiscoverAll(c.Request.Context())
	switch {
	case errors.Is(err, discovery.ErrNoAccounts):
		fail(c, http.StatusPreconditionFailed, "no accounts configured", errors.New("add an AWS account before running discovery"))
		return
	case errors.Is(err, discovery.ErrRunInProgress):
		fail(c, http.StatusConflict, "discovery already running", nil)
		return
	case err != nil:
		log.Error().Err(err).Msg("discovery request failed")
		fail(c, http.StatusInternalServerError, "discovery failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"resourcesDiscovered": summary.ResourcesDiscovered,
		"accountsProcessed":   summary.AccountsProcessed,
		"accountsFailed":      summary.AccountsFailed,
		"enrichmentFailures":  summary.EnrichmentFailures,
		"persistFailures":     summary.PersistFailures,
		"created":             summary.Created,
		"updated":             summary.Updated,
		"durationMs":          summary.Duration.Milliseconds(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// Resources
// ══════════════════════════════════════════════════════════════════════════════

type resourceQueryParams struct {
	ResourceType string `form:"resourceType"`
	Region       string `form:"region"`
	AccountName  string `form:"accountName"`
	StarredOnly  bool   `form:"starredOnly"`
	Page         int    `form:"page"`
	Limit        int    `form:"limit"`
	SortOrder    string `form:"sortOrder"`
}

func (s *Server) queryResources(c *gin.Context) {
	var params resourceQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		fail(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	q, err := storage.Query{
		ResourceType: params.ResourceType,
		Region:       params.Region,
		AccountName:  params.AccountName,
		StarredOnly:  params.StarredOnly,
		Page:         params.Page,
		Limit:        params.Limit,
		SortOrder:    storage.SortOrder(params.SortOrder),
	}.Normalize()
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	page, err := s.deps.Resources.QueryResources(c.Request.Context(), q)
	if err != nil {
		log.Error().Err(err).Msg("resource query failed")
		fail(c, http.StatusInternalServerError, "failed to fetch resources", err)
		return
	}

	items := page.Items
	if items == nil {
		items = []resource.Resource{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"pagination": gin.H{
			"page":       page.Page,
			"limit":      page.Limit,
			"totalCount": page.TotalCount,
			"totalPages": page.TotalPages,
		},
		"filters": q,
	})
}

type starRequest struct {
	ResourceID string `json:"resourceId"`
	IsStarred  *bool  `json:"isStarred"`
}

func (s *Server) starResource(c *gin.Context) {
	var req starRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if strings.TrimSpace(req.ResourceID) == "" {
		fail(c, http.StatusBadRequest, "resourceId is required", nil)
		return
	}
	if req.IsStarred == nil {
		fail(c, http.StatusBadRequest, "isStarred is required", nil)
		return
	}

	err := s.deps.Resources.SetStarred(c.Request.Context(), req.ResourceID, *req.IsStarred)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, "resource not found", nil)
		return
	case err != nil:
		log.Error().Err(err).Str("resource_id", req.ResourceID).Msg("star update failed")
		fail(c, http.StatusInternalServerError, "failed to update resource", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// Changes
// ══════════════════════════════════════════════════════════════════════════════

const (
	defaultChangesLimit = 100
	maxChangesLimit     = 1000
)

func (s *Server) recentChanges(c *gin.Context) {
	limit := defaultChangesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxChangesLimit {
			fail(c, http.StatusBadRequest, "invalid limit", errors.New("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	entries, err := s.deps.Changes.Recent(limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read change journal")
		fail(c, http.StatusInternalServerError, "failed to read changes", nil)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "count": len(entries)})
}

// ══════════════════════════════════════════════════════════════════════════════
// Accounts
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) listAccounts(c *gin.Context) {
	accounts, err := s.deps.Accounts.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("account list failed")
		fail(c, http.StatusInternalServerError, "failed to list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []account.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": accounts})
}

func (s *Server) addAccount(c *gin.Context) {
	var in account.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	id, err := s.deps.Accounts.Add(c.Request.Context(), in)
	switch {
	case errors.Is(err, account.ErrValidation):
		fail(c, http.StatusBadRequest, "invalid account", err)
		return
	case errors.Is(err, account.ErrAuthentication):
		fail(c, http.StatusUnauthorized, "aws credential validation failed", nil)
		return
	case err != nil:
		log.Error().Err(err).Str("account_name", in.Name).Msg("account creation failed")
		fail(c, http.StatusInternalServerError, "failed to add account", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
}

func (s *Server) removeAccount(c *gin.Context) {
	id := c.Query("accountId")
	if strings.TrimSpace(id) == "" {
		fail(c, http.StatusBadRequest, "accountId is required", nil)
		return
	}

	err := s.deps.Accounts.Remove(c.Request.Context(), id)
	switch {
	case errors.Is(err, account.ErrNotFound):
		fail(c, http.StatusNotFound, "account not found", nil)
		return
	case errors.Is(err, account.ErrValidation):
		fail(c, http.StatusBadRequest, "invalid account id", err)
		return
	case err != nil:
		log.Error().Err(err).Str("account_config_id", id).Msg("account removal failed")
		fail(c, http.StatusInternalServerError, "failed to remove account", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
