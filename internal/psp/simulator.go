package psp

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zrobank/otc-settlement/internal/cryptoremittance"
	"github.com/zrobank/otc-settlement/internal/exchangequotation"
	"github.com/zrobank/otc-settlement/internal/types"
)

// Simulator is an in-memory PSP implementing both gateway contracts. It is
// the default in development and drives the simulation binary: quotations
// auto-advance one state per poll and hedge orders fill immediately.
type Simulator struct {
	mu          sync.Mutex
	name        string
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration

	solicitations map[string]*simulatedSolicitation
	orders        map[string]*cryptoremittance.ProviderOrder
}

type simulatedSolicitation struct {
	state          types.QuotationState
	contractNumber string
}

func NewSimulator(name string, successRate float64) *Simulator {
	return &Simulator{
		name:          name,
		successRate:   successRate,
		minLatency:    5 * time.Millisecond,
		maxLatency:    40 * time.Millisecond,
		solicitations: make(map[string]*simulatedSolicitation),
		orders:        make(map[string]*cryptoremittance.ProviderOrder),
	}
}

func (s *Simulator) Name() string {
	return s.name
}

func (s *Simulator) sleep() {
	span := s.maxLatency - s.minLatency
	time.Sleep(s.minLatency + time.Duration(rand.Int63n(int64(span))))
}

func (s *Simulator) CreateAndAccept(_ context.Context, req exchangequotation.CreateRequest) (*exchangequotation.CreateResult, error) {
	s.sleep()

	if rand.Float64() > s.successRate {
		return nil, fmt.Errorf("%w: simulated outage", ErrPSPRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	solicitationID := uuid.New().String()
	s.solicitations[solicitationID] = &simulatedSolicitation{state: types.QuotationStateAccept}

	log.Debug().
		Str("solicitation_id", solicitationID).
		Str("currency", req.Currency).
		Int64("amount", req.Amount).
		Msg("simulated quotation accepted")

	return &exchangequotation.CreateResult{
		QuotationPspID:    uuid.New().String(),
		SolicitationPspID: solicitationID,
	}, nil
}

func (s *Simulator) GetBySolicitationID(_ context.Context, solicitationPspID string) (*exchangequotation.StatusResult, error) {
	s.sleep()

	s.mu.Lock()
	defer s.mu.Unlock()

	sol, ok := s.solicitations[solicitationPspID]
	if !ok {
		return nil, ErrPSPNotFound
	}

	// Advance one state per poll: ACCEPT -> APPROVED -> COMPLETED.
	switch sol.state {
	case types.QuotationStateAccept:
		sol.state = types.QuotationStateApproved
	case types.QuotationStateApproved:
		sol.state = types.QuotationStateCompleted
		sol.contractNumber = fmt.Sprintf("CTR-%d", rand.Int31())
	}

	return &exchangequotation.StatusResult{
		State:          sol.state,
		ContractNumber: sol.contractNumber,
	}, nil
}

func (s *Simulator) Reject(_ context.Context, solicitationPspID string) error {
	s.sleep()

	s.mu.Lock()
	defer s.mu.Unlock()

	sol, ok := s.solicitations[solicitationPspID]
	if !ok {
		return nil // idempotent
	}
	sol.state = types.QuotationStateRejected
	return nil
}

func (s *Simulator) CreateOrder(_ context.Context, order *cryptoremittance.CryptoRemittance) (string, error) {
	s.sleep()

	if rand.Float64() > s.successRate {
		return "", fmt.Errorf("%w: simulated outage", ErrPSPRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	s.orders[id] = &cryptoremittance.ProviderOrder{
		ProviderOrderID: id,
		Status:          types.CryptoStatusFilled,
		ExecutedAmount:  order.Amount,
		ExecutedPrice:   cryptoremittance.PriceScale, // fills at par
	}
	return id, nil
}

func (s *Simulator) GetOrderByID(_ context.Context, providerOrderID string) (*cryptoremittance.ProviderOrder, error) {
	s.sleep()

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[providerOrderID]
	if !ok {
		return nil, ErrPSPNotFound
	}
	copied := *order
	return &copied, nil
}

func (s *Simulator) CancelOrder(_ context.Context, providerOrderID string) error {
	s.sleep()

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[providerOrderID]
	if !ok || order.Status == types.CryptoStatusCanceled {
		return nil // idempotent
	}
	if order.Status == types.CryptoStatusPending {
		order.Status = types.CryptoStatusCanceled
	}
	return nil
}
