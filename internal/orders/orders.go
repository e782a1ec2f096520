package orders

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zrobank/otc-settlement/internal/types"
	"github.com/zrobank/otc-settlement/pkg/response"
)

var (
	ErrInvalidSide   = errors.New("side must be BUY or SELL")
	ErrInvalidType   = errors.New("type must be CRYPTO or FX")
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrMissingField  = errors.New("currency and system are required")
)

// Service handles remittance order intake ahead of grouping.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateOrder registers a new remittance order with idempotency support: a
// retried submission carrying the same key returns the original order.
func (s *Service) CreateOrder(order *types.RemittanceOrder, idempotencyKey string) error {
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err != nil {
		return err
	}
	if record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.New("order for idempotency key not found")
		}
		*order = *existing
		return nil
	}

	if err := validate(order); err != nil {
		return err
	}

	order.OrderID = uuid.New().String()
	order.Status = types.OrderStatusPending
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()

	return s.db.CreateOrderWithIdempotency(order, idempotencyKey)
}

func (s *Service) GetOrder(orderID string) (*types.RemittanceOrder, error) {
	return s.db.GetOrder(orderID)
}

func (s *Service) ListOrders(status types.RemittanceOrderStatus) ([]types.RemittanceOrder, error) {
	return s.db.ListOrders(status)
}

func validate(order *types.RemittanceOrder) error {
	if order.Side != types.SideBuy && order.Side != types.SideSell {
		return ErrInvalidSide
	}
	if order.Type != types.OrderTypeCrypto && order.Type != types.OrderTypeForex {
		return ErrInvalidType
	}
	if order.Amount <= 0 {
		return ErrInvalidAmount
	}
	if order.Currency == "" || order.System == "" {
		return ErrMissingField
	}
	return nil
}

// GinHandlers contains HTTP handlers for order intake endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to submit remittance orders.
// Requires an idempotency key in the headers.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var order types.RemittanceOrder
		if err := c.ShouldBindJSON(&order); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.CreateOrder(&order, idempotencyKey); err != nil {
			switch {
			case errors.Is(err, ErrInvalidSide),
				errors.Is(err, ErrInvalidType),
				errors.Is(err, ErrInvalidAmount),
				errors.Is(err, ErrMissingField):
				response.BadRequest(c, err.Error())
			default:
				response.InternalError(c, err.Error())
			}
			return
		}

		response.Success(c, order)
	}
}

// GetOrderHandler handles GET requests for a single order.
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		order, err := h.service.GetOrder(orderID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET requests for orders, optionally filtered by
// status query parameter.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status := types.RemittanceOrderStatus(c.Query("status"))

		list, err := h.service.ListOrders(status)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, list)
	}
}
