package ingestion

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/cardwatch-lab/cardwatch/internal/api/v1"
	"github.com/cardwatch-lab/cardwatch/internal/aggregation"
	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	httperr "github.com/cardwatch-lab/cardwatch/internal/core/errors"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

const (
	msgReadBodyFailed       = "Failed to read request body"
	msgInvalidJSON          = "Invalid JSON body"
	msgPersistFailed        = "Failed to persist transaction"
	msgDuplicateTransaction = "Transaction already exists"
)

// ingestionError carries the structured HTTP error shape from a helper back
// to the orchestrator. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// granularityView is the response shape for one updated aggregate.
type granularityView struct {
	Path           string `json:"path,omitempty"`
	TotalAmount    string `json:"total_amount,omitempty"`
	TotalCount     int64  `json:"total_count,omitempty"`
	Created        bool   `json:"created,omitempty"`
	Skipped        bool   `json:"skipped,omitempty"`
	NotifiedLevels []int  `json:"notified_levels,omitempty"`
	Error          string `json:"error,omitempty"`
}

// IngestHandler handles HTTP POST requests for transaction ingestion.
func (s *Service) IngestHandler(c *gin.Context) {
	tx, payloadSize, err := s.parseTransaction(c)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received Transaction",
		"transaction_id", tx.ID,
		"amount", tx.Amount,
		"occurred_at", tx.OccurredAt,
		"source", tx.Source,
		"payload_size", payloadSize)

	if err := s.persistTransaction(c, tx); err != nil {
		writeError(c, err)
		return
	}

	result, recordErr := s.aggregator.RecordTransaction(c.Request.Context(), tx)
	if recordErr != nil {
		writeError(c, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    recordErr.Error(),
		})
		return
	}

	status := "accepted"
	code := http.StatusAccepted
	if !result.Succeeded() {
		// The raw transaction is durable; some granularities failed and can
		// be rebuilt via recalculation.
		status = "partial"
	}

	c.JSON(code, gin.H{
		"status":  status,
		"daily":   toView(result.Daily),
		"weekly":  toView(result.Weekly),
		"monthly": toView(result.Monthly),
	})
}

// GetAggregateHandler serves one period aggregate by key.
// Query params: granularity, year, month, and day (daily) or term (weekly).
func (s *Service) GetAggregateHandler(c *gin.Context) {
	key, err := parseAggregateKey(c)
	if err != nil {
		writeError(c, err)
		return
	}

	agg, getErr := s.aggStore.Get(c.Request.Context(), key)
	if errors.Is(getErr, storage.ErrNotFound) {
		writeError(c, &ingestionError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpAggregateNotFoundError,
			message:    "No aggregate for " + key.DocPath(),
		})
		return
	}
	if getErr != nil {
		slog.Error("Failed to load aggregate", "path", key.DocPath(), "error", getErr)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to load aggregate",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":            agg.Key.DocPath(),
		"granularity":     agg.Key.Granularity,
		"period_start":    agg.PeriodStart,
		"period_end":      agg.PeriodEnd,
		"total_amount":    agg.TotalAmount.String(),
		"total_count":     agg.TotalCount,
		"document_ids":    agg.DocumentIDs,
		"notified_level1": agg.NotifiedLevel1,
		"notified_level2": agg.NotifiedLevel2,
		"notified_level3": agg.NotifiedLevel3,
		"summary_sent":    agg.SummarySent,
		"last_updated":    agg.LastUpdated,
		"last_updated_by": agg.LastUpdatedBy,
	})
}

// parseTransaction reads the raw request body and binds it into a Transaction.
// Returns the parsed transaction and the raw payload size.
func (s *Service) parseTransaction(c *gin.Context) (*v1.Transaction, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM from oversized payloads
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))

	var tx v1.Transaction
	if err := c.ShouldBindJSON(&tx); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if err := tx.Validate(); err != nil {
		slog.Warn("Transaction validation failed", "error", err, "transaction_id", tx.ID)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		}
	}

	// set IngestedAt to be the time we receive the request
	tx.IngestedAt = time.Now().UTC()
	return &tx, len(bodyBytes), nil
}

// persistTransaction saves the raw transaction to the backing store.
func (s *Service) persistTransaction(c *gin.Context, tx *v1.Transaction) *ingestionError {
	if err := s.txStore.SaveTransaction(c.Request.Context(), tx); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Info("Duplicate transaction rejected", "transaction_id", tx.ID)
			return &ingestionError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateTransactionError,
				message:    msgDuplicateTransaction,
			}
		}

		slog.Error("Failed to persist transaction", "error", err, "transaction_id", tx.ID)
		return &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	return nil
}

func parseAggregateKey(c *gin.Context) (aggregate.Key, *ingestionError) {
	badRequest := func(msg string) (aggregate.Key, *ingestionError) {
		return aggregate.Key{}, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    msg,
		}
	}

	granularity := c.Query("granularity")
	if !aggregate.ValidGranularity(granularity) {
		return badRequest("granularity must be daily, weekly, or monthly")
	}

	year, err := strconv.Atoi(c.Query("year"))
	if err != nil || year < 2000 || year > 2999 {
		return badRequest("year must be a four-digit number")
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		return badRequest("month must be 1-12")
	}

	seq := 0
	switch granularity {
	case aggregate.GranularityDaily:
		seq, err = strconv.Atoi(c.Query("day"))
		if err != nil || seq < 1 || seq > 31 {
			return badRequest("day must be 1-31")
		}
	case aggregate.GranularityWeekly:
		seq, err = strconv.Atoi(c.Query("term"))
		if err != nil || seq < 1 || seq > 5 {
			return badRequest("term must be 1-5")
		}
	}

	return aggregate.Key{Granularity: granularity, Year: year, Month: month, Seq: seq}, nil
}

func toView(gr *aggregation.GranularityResult) *granularityView {
	if gr == nil {
		return nil
	}
	view := &granularityView{
		Path:           gr.Path,
		Created:        gr.Created,
		Skipped:        gr.Skipped,
		NotifiedLevels: gr.NotifiedLevels,
	}
	if gr.Aggregate != nil {
		view.TotalAmount = gr.Aggregate.TotalAmount.String()
		view.TotalCount = gr.Aggregate.TotalCount
	}
	if gr.Err != nil {
		view.Error = gr.Err.Error()
	}
	return view
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
