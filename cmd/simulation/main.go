package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/zrobank/otc-settlement/internal/auth"
	"github.com/zrobank/otc-settlement/internal/cryptoremittance"
	"github.com/zrobank/otc-settlement/internal/database"
	"github.com/zrobank/otc-settlement/internal/events"
	"github.com/zrobank/otc-settlement/internal/exchangequotation"
	"github.com/zrobank/otc-settlement/internal/exposure"
	"github.com/zrobank/otc-settlement/internal/operation"
	"github.com/zrobank/otc-settlement/internal/orders"
	"github.com/zrobank/otc-settlement/internal/psp"
	"github.com/zrobank/otc-settlement/internal/quotation"
	"github.com/zrobank/otc-settlement/internal/remittance"
	"github.com/zrobank/otc-settlement/internal/settlementdate"
	"github.com/zrobank/otc-settlement/internal/types"
	"github.com/zrobank/otc-settlement/pkg/lock"
)

const (
	minOrders     = 15
	maxOrders     = 120
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	settleWait    = 45 * time.Second
)

var (
	currencies = []string{"USD", "EUR", "GBP", "BTC", "ETH"}
	sides      = []types.Side{types.SideBuy, types.SideSell}
	systems    = []string{"ZROBANK", "PARTNER"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the settlement API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":        {name: "Authentication"},
			"create":      {name: "Create Order"},
			"remittances": {name: "List Remittances"},
			"quotations":  {name: "List Quotations"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// createOrder submits a new remittance order to the API
// Returns the order ID on success
func (sc *simulationClient) createOrder(order *types.RemittanceOrder) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["create"].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(order)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/orders", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create order failed with status %d: %s", resp.StatusCode, string(respBody))
	}
	log.Debug().Str("response", string(respBody)).Msg("Create order response")

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.OrderID == "" {
		return "", fmt.Errorf("no order ID in response: %s", string(respBody))
	}

	return result.Data.OrderID, nil
}

// listRemittances retrieves all remittances, optionally filtered by status
func (sc *simulationClient) listRemittances(status string) ([]remittance.Remittance, error) {
	start := time.Now()
	defer func() {
		sc.stats["remittances"].addDuration(time.Since(start))
	}()

	url := fmt.Sprintf("%s/api/v1/remittances", sc.baseURL)
	if status != "" {
		url += "?status=" + status
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list remittances failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                    `json:"success"`
		Data    []remittance.Remittance `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data, nil
}

// listQuotations retrieves all exchange quotations
func (sc *simulationClient) listQuotations() ([]exchangequotation.ExchangeQuotation, error) {
	start := time.Now()
	defer func() {
		sc.stats["quotations"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", fmt.Sprintf("%s/api/v1/exchange-quotations", sc.baseURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list quotations failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                                  `json:"success"`
		Data    []exchangequotation.ExchangeQuotation `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the settlement simulation
// It starts a local API server with a simulated PSP and drives random
// remittance orders through grouping, hedging and quotation
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of orders to process
	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	startTime := time.Now()

	// Channel to collect order IDs
	ordersChan := make(chan string, targetOrders)
	var wg sync.WaitGroup

	// Start worker goroutines
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createOrdersHTTP(workerID, targetOrders/numWorkers, simClient, ordersChan)
		}(i)
	}

	// Wait for all orders to be created
	wg.Wait()
	close(ordersChan)

	var orderIDs []string
	for orderID := range ordersChan {
		orderIDs = append(orderIDs, orderID)
	}

	log.Info().Int("orders_created", len(orderIDs)).Msg("All orders created")

	// Let the processors group, hedge and quote; report progress while
	// waiting
	deadline := time.Now().Add(settleWait)
	for time.Now().Before(deadline) {
		time.Sleep(3 * time.Second)

		remittances, err := simClient.listRemittances("")
		if err != nil {
			log.Error().Err(err).Msg("Failed to list remittances")
			continue
		}

		byStatus := make(map[types.RemittanceStatus]int)
		for _, rem := range remittances {
			byStatus[rem.Status]++
		}

		log.Info().
			Int("remittances", len(remittances)).
			Int("open", byStatus[types.RemittanceStatusOpen]).
			Int("waiting", byStatus[types.RemittanceStatusWaiting]).
			Int("closed", byStatus[types.RemittanceStatusClosed]).
			Msg("Pipeline progress")
	}

	remittances, err := simClient.listRemittances("")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list remittances")
	}
	quotations, err := simClient.listQuotations()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list quotations")
	}

	// Print summary
	duration := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SETTLEMENT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	remByStatus := make(map[types.RemittanceStatus]int)
	remByCurrency := make(map[string]int)
	var totalExposure int64
	for _, rem := range remittances {
		remByStatus[rem.Status]++
		remByCurrency[rem.Currency]++
		totalExposure += rem.Amount
	}

	quoteByState := make(map[types.QuotationState]int)
	for _, quote := range quotations {
		quoteByState[quote.State]++
	}

	fmt.Printf(`
Order Statistics
----------------
Orders Created:   %d
Remittances:      %d
  Open:           %d
  Waiting:        %d
  Closed:         %d
Quotations:       %d
  Accepted:       %d
  Approved:       %d
  Completed:      %d
  Rejected:       %d
Total Exposure:   %d
Duration:         %v

Currency Distribution
---------------------
`, len(orderIDs), len(remittances),
		remByStatus[types.RemittanceStatusOpen],
		remByStatus[types.RemittanceStatusWaiting],
		remByStatus[types.RemittanceStatusClosed],
		len(quotations),
		quoteByState[types.QuotationStateAccept],
		quoteByState[types.QuotationStateApproved],
		quoteByState[types.QuotationStateCompleted],
		quoteByState[types.QuotationStateRejected],
		totalExposure, duration.Round(time.Millisecond))

	// Print currency distribution with simple ASCII bar chart
	maxCurrencyCount := 0
	for _, count := range remByCurrency {
		if count > maxCurrencyCount {
			maxCurrencyCount = count
		}
	}

	for currency, count := range remByCurrency {
		barLength := int(float64(count) / float64(maxCurrencyCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-6s: %s (%d)\n", currency, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	completionRate := 0.0
	if len(quotations) > 0 {
		completionRate = float64(quoteByState[types.QuotationStateCompleted]) / float64(len(quotations)) * 100
	}
	log.Info().
		Float64("completion_rate", completionRate).
		Int("orders_created", len(orderIDs)).
		Int("remittances", len(remittances)).
		Int("quotations", len(quotations)).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// createOrdersHTTP generates and submits random remittance orders to the API
// Runs as a worker goroutine, sending created order IDs to ordersChan
func createOrdersHTTP(workerID, numOrders int, simClient *simulationClient, ordersChan chan<- string) {
	for i := 0; i < numOrders; i++ {
		currency := currencies[rand.Intn(len(currencies))]
		orderType := types.OrderTypeForex
		if currency == "BTC" || currency == "ETH" {
			orderType = types.OrderTypeCrypto
		}

		order := &types.RemittanceOrder{
			Side:     sides[rand.Intn(len(sides))],
			Currency: currency,
			Amount:   int64(rand.Intn(50_000) + 1_000),
			Type:     orderType,
			System:   systems[rand.Intn(len(systems))],
			Provider: "SIMULATED",
		}

		orderID, err := simClient.createOrder(order)
		if err != nil {
			log.Error().Err(err).
				Str("worker_id", fmt.Sprintf("%d", workerID)).
				Str("currency", order.Currency).
				Msg("Failed to create order")
			continue
		}

		ordersChan <- orderID
		log.Info().
			Str("worker_id", fmt.Sprintf("%d", workerID)).
			Str("order_id", orderID).
			Str("currency", order.Currency).
			Str("side", string(order.Side)).
			Int64("amount", order.Amount).
			Msg("Order created")

		// Random sleep between orders
		time.Sleep(time.Duration(rand.Intn(500)) * time.Millisecond)
	}
}

// startServer initializes and starts the settlement API server with the
// simulated PSP, in-memory locks and events, and fast processor intervals
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	resolver := settlementdate.NewResolver("09:00", nil)
	locker := lock.NewMemoryLocker()
	publisher := events.NewMemoryPublisher()
	sim := psp.NewSimulator("SIMULATED", 0.95)

	// Initialize services
	authService := auth.NewService("otc-settlement-secret")
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ordersService := orders.NewService(db)
	exposureDB := exposure.NewDatabase(db)
	remittanceDB := remittance.NewDatabase(db)
	remittanceService := remittance.NewService(db, resolver, publisher, types.CodeD0, types.CodeD1)
	cryptoService := cryptoremittance.NewService(db, remittanceDB, sim, resolver, publisher, types.CodeD0, types.CodeD1)
	groupingService := remittance.NewGroupingService(remittanceDB, exposureDB, resolver, locker, publisher, cryptoService)
	quotationService := exchangequotation.NewService(db, remittanceDB, quotation.Static{Rate: decimal.NewFromFloat(5.2)}, operation.Noop{}, sim, publisher)

	seedExposureRules(exposureDB)

	// Fast processor cadence so the pipeline settles within the simulation
	// window
	ctx := context.Background()
	go remittance.NewProcessor(groupingService, 2*time.Second).Start(ctx)
	go cryptoremittance.NewProcessor(cryptoService, 2*time.Second).Start(ctx)
	go exchangequotation.NewProcessor(quotationService, func() bool { return true }, 3*time.Second).Start(ctx)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	ordersHandlers := orders.NewGinHandlers(ordersService)
	remittanceHandlers := remittance.NewGinHandlers(remittanceService)
	quotationHandlers := exchangequotation.NewGinHandlers(quotationService)

	// Setup routes
	setupRoutes(router, authHandlers, ordersHandlers, remittanceHandlers, quotationHandlers)

	// Start the server
	return router.Run(":8080")
}

// seedExposureRules installs an exposure rule per simulated currency so the
// grouping processor has close thresholds to work against
func seedExposureRules(db *exposure.Database) {
	for _, currency := range currencies {
		rule := &exposure.Rule{
			RuleID:   uuid.New().String(),
			Currency: currency,
			Amount:   100_000,
			Seconds:  20,
			DateRules: []exposure.SettlementDateRule{
				{Amount: 50_000, SendDate: types.CodeD0, ReceiveDate: types.CodeD1},
				{Amount: 200_000, SendDate: types.CodeD1, ReceiveDate: types.CodeD2},
			},
		}
		if err := db.CreateRule(rule); err != nil {
			log.Warn().Err(err).Str("currency", currency).Msg("Failed to seed exposure rule")
		}
	}
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality; the simulation skips auth middleware on
// read endpoints to keep the load loop simple
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	ordersHandlers *orders.GinHandlers,
	remittanceHandlers *remittance.GinHandlers,
	quotationHandlers *exchangequotation.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order intake routes
		ordersGroup := v1.Group("/orders")
		{
			ordersGroup.POST("", ordersHandlers.CreateOrderHandler())
			ordersGroup.GET("/:order_id", ordersHandlers.GetOrderHandler())
		}

		// Read routes
		remittances := v1.Group("/remittances")
		{
			remittances.GET("", remittanceHandlers.ListRemittancesHandler())
			remittances.GET("/:remittance_id", remittanceHandlers.GetRemittanceHandler())
		}

		quotations := v1.Group("/exchange-quotations")
		{
			quotations.GET("", quotationHandlers.ListQuotationsHandler())
			quotations.GET("/:quotation_id", quotationHandlers.GetQuotationHandler())
		}
	}
}
