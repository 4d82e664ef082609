package recalc

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/cardwatch-lab/cardwatch/internal/core/errors"
	"github.com/cardwatch-lab/cardwatch/internal/core/period"
)

// recalcRequest is the wire form of a job request; dates come in as
// YYYY-MM-DD and are interpreted in JST.
type recalcRequest struct {
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	Granularities []string `json:"granularities,omitempty"`
	DryRun        bool     `json:"dry_run"`
	ExecutedBy    string   `json:"executed_by"`
}

// RegisterRoutes registers the recalculation trigger route.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/recalculations", s.RecalculateHandler)
}

// RecalculateHandler runs one recalculation job synchronously and returns
// its full result.
func (s *Service) RecalculateHandler(c *gin.Context) {
	var wire recalcRequest
	if err := c.ShouldBindJSON(&wire); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid JSON body",
		})
		return
	}

	req, err := wire.toRequest()
	if err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   err.Error(),
		})
		return
	}

	result, err := s.Recalculate(c.Request.Context(), req)
	if errors.Is(err, ErrValidation) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   err.Error(),
		})
		return
	}
	if err != nil {
		// An interrupted job still carries partial statistics; pass them
		// through so the caller sees how far it got.
		resp := httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   err.Error(),
		}
		if result != nil {
			resp.Details = result
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (w recalcRequest) toRequest() (Request, error) {
	req := Request{
		Granularities: w.Granularities,
		DryRun:        w.DryRun,
		ExecutedBy:    w.ExecutedBy,
	}
	if w.StartDate != "" {
		start, err := time.ParseInLocation("2006-01-02", w.StartDate, period.JST)
		if err != nil {
			return Request{}, errors.New("start_date must be formatted as YYYY-MM-DD")
		}
		req.StartDate = start
	}
	if w.EndDate != "" {
		end, err := time.ParseInLocation("2006-01-02", w.EndDate, period.JST)
		if err != nil {
			return Request{}, errors.New("end_date must be formatted as YYYY-MM-DD")
		}
		req.EndDate = end
	}
	return req, nil
}
