package ingestion

import (
	"github.com/gin-gonic/gin"

	"github.com/cardwatch-lab/cardwatch/internal/aggregation"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

// Service accepts card-usage transactions over HTTP, persists the raw record,
// and drives it through the aggregation service. It also serves aggregate
// reads for operators verifying state.
type Service struct {
	txStore          storage.TransactionStore
	aggStore         storage.AggregateStore
	aggregator       *aggregation.Service
	maxBodySizeBytes int
}

func NewService(
	txStore storage.TransactionStore,
	aggStore storage.AggregateStore,
	aggregator *aggregation.Service,
	maxBodySizeMB int,
) *Service {
	if txStore == nil {
		panic("ingestion: transaction store must not be nil")
	}
	if aggStore == nil {
		panic("ingestion: aggregate store must not be nil")
	}
	if aggregator == nil {
		panic("ingestion: aggregator must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		txStore:          txStore,
		aggStore:         aggStore,
		aggregator:       aggregator,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/transactions", s.IngestHandler)
	r.GET("/v1/aggregates", s.GetAggregateHandler)
}
