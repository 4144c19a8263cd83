package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"price-aggregator/models"
	"price-aggregator/services"
	"price-aggregator/utils"
)

// Searcher starts aggregations and reports their state.
type Searcher interface {
	Search(ctx context.Context, query, country string) (string, error)
	Poll(ctx context.Context, handle string) *models.SearchStatus
}

// CountryResolver guesses the caller's country from its IP.
type CountryResolver interface {
	Resolve(ctx context.Context, ip string) string
}

// Handler holds the HTTP handlers of the search API.
type Handler struct {
	searcher Searcher
	geo      CountryResolver
	logger   *utils.Logger
}

// NewHandler creates a Handler. geo may be nil, in which case a request
// without a country is searched with an empty country and finds no stores.
func NewHandler(searcher Searcher, geo CountryResolver, logger *utils.Logger) *Handler {
	return &Handler{searcher: searcher, geo: geo, logger: logger}
}

// Search handles GET /buscar?q=<query>&country=<CC>.
func (h *Handler) Search(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing search query parameter 'q'"})
		return
	}

	country := strings.ToUpper(strings.TrimSpace(c.Query("country")))
	if country == "" && h.geo != nil {
		country = h.geo.Resolve(c.Request.Context(), c.ClientIP())
	}

	handle, err := h.searcher.Search(c.Request.Context(), query, country)
	switch {
	case errors.Is(err, services.ErrNoEligibleStores):
		c.JSON(http.StatusOK, gin.H{
			"task_id": nil,
			"error":   fmt.Sprintf("no stores available for country %q", country),
		})
		return
	case errors.Is(err, services.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing search query parameter 'q'"})
		return
	case err != nil:
		h.logger.Error("[api] Search %q (%s) failed: %v", query, country, err)
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"task_id": nil, "error": "could not start search, try again"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": handle,
		"query":   query,
		"country": country,
	})
}

// Results handles GET /resultados/:id.
func (h *Handler) Results(c *gin.Context) {
	st := h.searcher.Poll(c.Request.Context(), c.Param("id"))

	body := gin.H{
		"status":    st.Status,
		"completed": st.Completed,
		"total":     st.Total,
	}
	switch st.Status {
	case models.StatusSuccess:
		results := st.Results
		if results == nil {
			results = []*models.Listing{}
		}
		body["results"] = results
		body["summary"] = st.Summary
	case models.StatusFailure:
		body["error"] = st.Error
	}

	c.JSON(http.StatusOK, body)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
