package schedule

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httperr "github.com/cardwatch-lab/cardwatch/internal/core/errors"
	"github.com/cardwatch-lab/cardwatch/internal/core/period"
)

// runRequest is the trigger payload. AsOf is optional and defaults to now;
// an external cron normally omits it, operators set it to re-close past days.
type runRequest struct {
	AsOf string `json:"as_of,omitempty"` // "2006-01-02"
}

type attemptView struct {
	Granularity string `json:"granularity"`
	Path        string `json:"path"`
	Sent        bool   `json:"sent"`
	Skipped     bool   `json:"skipped,omitempty"`
	SkipReason  string `json:"skip_reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RegisterRoutes registers the schedule trigger route.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/schedule/run", s.RunHandler)
}

// RunHandler triggers one daily schedule run.
func (s *Service) RunHandler(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpInvalidJsonError,
				Message:   "Invalid JSON body",
			})
			return
		}
	}

	asOf := time.Now().In(period.JST)
	if req.AsOf != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.AsOf, period.JST)
		if err != nil {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpValidationError,
				Message:   "as_of must be formatted as YYYY-MM-DD",
			})
			return
		}
		asOf = parsed
	}

	report := s.RunDailySchedule(c.Request.Context(), asOf)

	status := "ok"
	if !report.Succeeded() {
		status = "partial"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  status,
		"target":  report.Target.Format("2006-01-02"),
		"daily":   toAttemptView(report.Daily),
		"weekly":  toAttemptView(report.Weekly),
		"monthly": toAttemptView(report.Monthly),
	})
}

func toAttemptView(a Attempt) attemptView {
	view := attemptView{
		Granularity: a.Granularity,
		Path:        a.Path,
		Sent:        a.Sent,
		Skipped:     a.Skipped,
		SkipReason:  a.SkipReason,
	}
	if a.Err != nil {
		view.Error = a.Err.Error()
	}
	return view
}
