package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/big-kim/castle-sub001/internal/engine"
	"github.com/big-kim/castle-sub001/internal/ledger"
	"github.com/big-kim/castle-sub001/internal/service"
	"github.com/big-kim/castle-sub001/internal/validation"
	"github.com/big-kim/castle-sub001/libs/auth"
)

type Handler struct {
	Service *service.ExchangeService
	Logger  *slog.Logger
}

func New(svc *service.ExchangeService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/", auth.Middleware(jwtSecret))
	group.POST("/orders", h.CreateOrder)
	group.GET("/orders", h.ListOrders)
	group.GET("/orders/:id", h.GetOrder)
	group.DELETE("/orders/:id", h.CancelOrder)
	group.GET("/orders/:id/matches", h.FindMatches)
	group.POST("/orders/execute", h.ManualExecute)
	group.GET("/trades", h.ListTrades)
	group.GET("/wallets", h.ListWallets)
	group.GET("/transactions", h.ListTransactions)
	group.POST("/deposits", h.Deposit)
	group.POST("/withdrawals", h.Withdraw)

	r.GET("/book/:pair", h.GetOrderBook)
}

type createOrderRequest struct {
	Side          string `json:"side"`
	BaseAsset     string `json:"base_asset"`
	QuoteAsset    string `json:"quote_asset"`
	Price         string `json:"price"`
	Quantity      string `json:"quantity"`
	PaymentMethod string `json:"payment_method"`
}

type tradeItem struct {
	TradeID     string `json:"trade_id"`
	BuyOrderID  string `json:"buy_order_id"`
	SellOrderID string `json:"sell_order_id"`
	Pair        string `json:"pair"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Status      string `json:"status"`
	ExecutedAt  string `json:"executed_at"`
}

type orderItem struct {
	OrderID    string `json:"order_id"`
	Side       string `json:"side"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Filled     string `json:"filled"`
	Remaining  string `json:"remaining"`
	TotalValue string `json:"total_value"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	errs := validation.ValidateOrderRequest(req.BaseAsset, req.QuoteAsset, req.Side, req.Quantity, req.Price)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	price, _ := decimal.NewFromString(strings.TrimSpace(req.Price))
	quantity, _ := decimal.NewFromString(strings.TrimSpace(req.Quantity))

	result, err := h.Service.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:        userID,
		Side:          strings.ToLower(strings.TrimSpace(req.Side)),
		BaseAsset:     validation.NormalizeAsset(req.BaseAsset),
		QuoteAsset:    validation.NormalizeAsset(req.QuoteAsset),
		Price:         price,
		Quantity:      quantity,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		CorrelationID: requestIDFromContext(c),
	})
	if err != nil {
		h.writeServiceError(c, err, "create order failed")
		return
	}

	trades := make([]tradeItem, 0, len(result.Trades))
	for i := range result.Trades {
		trades = append(trades, tradeToItem(&result.Trades[i]))
	}
	c.JSON(http.StatusCreated, gin.H{
		"order":  orderToItem(result.Order),
		"trades": trades,
	})
}

func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	status := strings.ToLower(strings.TrimSpace(c.Query("status")))
	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		limit = n
	}

	orders := h.Service.ListOrders(userID, status, limit)
	items := make([]orderItem, 0, len(orders))
	for i := range orders {
		items = append(items, orderToItem(&orders[i]))
	}
	c.JSON(http.StatusOK, gin.H{"orders": items})
}

func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Service.GetOrder(userID, orderID)
	if err != nil {
		h.writeServiceError(c, err, "get order failed")
		return
	}
	c.JSON(http.StatusOK, orderToItem(order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), userID, orderID, requestIDFromContext(c))
	if err != nil {
		h.writeServiceError(c, err, "cancel order failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":   order.ID.String(),
		"status":     order.Status,
		"updated_at": order.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) FindMatches(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}

	previews, err := h.Service.FindCompatibleMatches(userID, orderID)
	if err != nil {
		h.writeServiceError(c, err, "find matches failed")
		return
	}

	matches := make([]gin.H, 0, len(previews))
	for _, p := range previews {
		matches = append(matches, gin.H{
			"order_id": p.OrderID.String(),
			"price":    p.Price.String(),
			"quantity": p.Quantity.String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

type manualExecuteRequest struct {
	OrderID        string `json:"order_id"`
	CounterOrderID string `json:"counter_order_id"`
	Quantity       string `json:"quantity"`
}

func (h *Handler) ManualExecute(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req manualExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	orderID, err := parseUUIDParam(req.OrderID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order_id", nil)
		return
	}
	counterID, err := parseUUIDParam(req.CounterOrderID)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid counter_order_id", nil)
		return
	}
	quantity, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid quantity", nil)
		return
	}

	trade, err := h.Service.ManualExecute(c.Request.Context(), service.ManualExecuteInput{
		UserID:         userID,
		OrderID:        orderID,
		CounterOrderID: counterID,
		Quantity:       quantity,
		CorrelationID:  requestIDFromContext(c),
	})
	if err != nil {
		h.writeServiceError(c, err, "manual execute failed")
		return
	}
	c.JSON(http.StatusOK, tradeToItem(trade))
}

func (h *Handler) ListTrades(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		limit = n
	}

	trades := h.Service.ListTrades(userID, limit)
	items := make([]tradeItem, 0, len(trades))
	for i := range trades {
		items = append(items, tradeToItem(&trades[i]))
	}
	c.JSON(http.StatusOK, gin.H{"trades": items})
}

func (h *Handler) GetOrderBook(c *gin.Context) {
	pair := strings.ToUpper(strings.TrimSpace(c.Param("pair")))
	if pair == "" || !strings.Contains(pair, "-") {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "pair must be in BASE-QUOTE format", nil)
		return
	}

	snapshot := h.Service.GetOrderBook(pair)
	c.JSON(http.StatusOK, gin.H{
		"pair": snapshot.Pair,
		"bids": levelsToItems(snapshot.Bids),
		"asks": levelsToItems(snapshot.Asks),
	})
}

func (h *Handler) ListWallets(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	wallets := h.Service.GetWallets(userID)
	items := make([]gin.H, 0, len(wallets))
	for _, w := range wallets {
		items = append(items, gin.H{
			"asset":        w.Asset,
			"balance":      w.Balance.String(),
			"total_earned": w.TotalEarned.String(),
			"updated_at":   w.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"wallets": items})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	filter := ledger.TransactionFilter{
		Asset:     validation.NormalizeAsset(c.Query("asset")),
		Direction: strings.ToLower(strings.TrimSpace(c.Query("direction"))),
		Status:    strings.ToLower(strings.TrimSpace(c.Query("status"))),
	}
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit", nil)
			return
		}
		filter.Limit = n
	}

	transactions := h.Service.GetTransactions(userID, filter)
	items := make([]gin.H, 0, len(transactions))
	for _, tx := range transactions {
		item := gin.H{
			"transaction_id": tx.ID.String(),
			"asset":          tx.Asset,
			"direction":      tx.Direction,
			"amount":         tx.Amount.String(),
			"reason":         string(tx.Reason),
			"status":         tx.Status,
			"created_at":     tx.CreatedAt.UTC().Format(time.RFC3339),
		}
		if tx.FailureReason != "" {
			item["failure_reason"] = tx.FailureReason
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

type transferRequest struct {
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Reason  string `json:"reason"`
	Address string `json:"address"`
}

func (h *Handler) Deposit(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	errs := validation.ValidateTransferRequest(req.Asset, req.Amount)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}
	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))

	tx, err := h.Service.Deposit(c.Request.Context(), userID, validation.NormalizeAsset(req.Asset), amount, ledger.Reason(strings.TrimSpace(req.Reason)), requestIDFromContext(c))
	if err != nil {
		h.writeServiceError(c, err, "deposit failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": tx.ID.String(),
		"status":         tx.Status,
	})
}

func (h *Handler) Withdraw(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user", nil)
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	errs := validation.ValidateTransferRequest(req.Asset, req.Amount)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}
	amount, _ := decimal.NewFromString(strings.TrimSpace(req.Amount))

	tx, err := h.Service.Withdraw(c.Request.Context(), userID, validation.NormalizeAsset(req.Asset), amount, strings.TrimSpace(req.Address), requestIDFromContext(c))
	if err != nil {
		h.writeServiceError(c, err, "withdrawal failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": tx.ID.String(),
		"status":         tx.Status,
	})
}

func (h *Handler) writeServiceError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, engine.ErrOrderNotFound), errors.Is(err, engine.ErrTradeNotFound),
		errors.Is(err, ledger.ErrWalletNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, service.ErrNotOrderOwner):
		writeError(c, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, engine.ErrOrderTerminal):
		writeError(c, http.StatusConflict, "ORDER_TERMINAL", err.Error(), nil)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", err.Error(), nil)
	case errors.Is(err, engine.ErrSelfTrade), errors.Is(err, engine.ErrPairMismatch),
		errors.Is(err, engine.ErrSideMismatch), errors.Is(err, engine.ErrIncompatiblePrice),
		errors.Is(err, engine.ErrExcessiveQuantity), errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeError(c, http.StatusUnprocessableEntity, "INVALID_EXECUTION", err.Error(), nil)
	default:
		h.Logger.Error(logMsg, "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func orderToItem(order *engine.Order) orderItem {
	return orderItem{
		OrderID:    order.ID.String(),
		Side:       order.Side,
		BaseAsset:  order.BaseAsset,
		QuoteAsset: order.QuoteAsset,
		Price:      order.Price.String(),
		Quantity:   order.Quantity.String(),
		Filled:     order.Filled.String(),
		Remaining:  order.Remaining().String(),
		TotalValue: order.TotalValue.String(),
		Status:     order.Status,
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func tradeToItem(trade *engine.Trade) tradeItem {
	return tradeItem{
		TradeID:     trade.ID.String(),
		BuyOrderID:  trade.BuyOrderID.String(),
		SellOrderID: trade.SellOrderID.String(),
		Pair:        trade.BaseAsset + "-" + trade.QuoteAsset,
		Price:       trade.Price.String(),
		Quantity:    trade.Quantity.String(),
		Status:      trade.Status,
		ExecutedAt:  trade.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func levelsToItems(levels []engine.BookLevel) []gin.H {
	items := make([]gin.H, 0, len(levels))
	for _, level := range levels {
		items = append(items, gin.H{
			"price":    level.Price.String(),
			"quantity": level.Quantity.String(),
			"orders":   level.Orders,
		})
	}
	return items
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	userID, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get("X-Request-ID"); ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}
