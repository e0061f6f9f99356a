// Package relayer carries deposits between pool chains: it accepts deposits
// from origin nodes, fills them on their destination chains in arrival order
// and refunds the ones that cannot be filled.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sharding-experiment/navpool/config"
	"github.com/sharding-experiment/navpool/internal/bridge"
	"github.com/sharding-experiment/navpool/internal/network"
	"golang.org/x/sync/errgroup"
)

const (
	HTTPClientTimeout = 10 * time.Second
	// MaxAttempts bounds fills that fail for reasons other than a rejection.
	MaxAttempts = 3
)

var (
	ErrUnknownChain     = errors.New("no node configured for chain")
	ErrDuplicateDeposit = errors.New("deposit already submitted")
)

// Status is where a deposit is in its relay
type Status string

const (
	StatusQueued   Status = "queued"
	StatusFilled   Status = "filled"   // instructions executed on the destination
	StatusFallback Status = "fallback" // filled, but the funds went to the fallback recipient
	StatusRefunded Status = "refunded"
	StatusFailed   Status = "failed" // neither filled nor refunded
)

// Record tracks one relayed deposit
type Record struct {
	Deposit   *bridge.Deposit    `json:"deposit"`
	Status    Status             `json:"status"`
	Attempts  int                `json:"attempts"`
	Fill      *bridge.FillResult `json:"fill,omitempty"`
	Error     string             `json:"error,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Service relays deposits between the configured pool chains
type Service struct {
	router     *mux.Router
	cfg        *config.Config
	httpClient *http.Client
	interval   time.Duration

	mu      sync.RWMutex
	records map[string]*Record
	queues  map[uint64][]string // destination chain -> deposit ids, oldest first

	flushMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewService creates a relayer over cfg.Peers. With a positive interval the
// queues are flushed periodically until Close.
func NewService(cfg *config.Config, interval time.Duration) *Service {
	s := &Service{
		router:     mux.NewRouter(),
		cfg:        cfg,
		httpClient: network.NewHTTPClient(cfg.Network, HTTPClientTimeout),
		interval:   interval,
		records:    make(map[string]*Record),
		queues:     make(map[uint64][]string),
		done:       make(chan struct{}),
	}
	s.setupRoutes()
	if interval > 0 {
		go s.deliveryLoop()
	}
	return s
}

// Router returns the HTTP router for testing
func (s *Service) Router() *mux.Router {
	return s.router
}

// Close stops the delivery loop
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

func (s *Service) setupRoutes() {
	s.router.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	s.router.HandleFunc("/deposit/{id}", s.handleGetDeposit).Methods("GET")
	s.router.HandleFunc("/queues", s.handleQueues).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *Service) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("[Relayer] starting on %s (chains %v)", addr, s.cfg.PeerChains())
	return http.ListenAndServe(addr, s.router)
}

func (s *Service) deliveryLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			log.Printf("[Relayer] delivery loop stopping")
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), MaxAttempts*HTTPClientTimeout)
			if err := s.Flush(ctx); err != nil {
				log.Printf("[Relayer] flush: %v", err)
			}
			cancel()
		}
	}
}

// Submit queues a deposit for its destination chain.
func (s *Service) Submit(d *bridge.Deposit) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, ok := s.cfg.PeerURL(d.OriginChainID); !ok {
		return fmt.Errorf("%w %d", ErrUnknownChain, d.OriginChainID)
	}
	if _, ok := s.cfg.PeerURL(d.DestinationChainID); !ok {
		return fmt.Errorf("%w %d", ErrUnknownChain, d.DestinationChainID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateDeposit, d.ID)
	}
	s.records[d.ID] = &Record{Deposit: d, Status: StatusQueued, UpdatedAt: time.Now()}
	s.queues[d.DestinationChainID] = append(s.queues[d.DestinationChainID], d.ID)
	log.Printf("[Relayer] queued deposit %s: chain %d -> chain %d, %s of %s",
		d.ID, d.OriginChainID, d.DestinationChainID, d.OutputAmount, d.OutputToken.Hex())
	return nil
}

// Record returns a copy of the relay record of a deposit
func (s *Service) Record(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Pending returns the queue length of every destination chain
func (s *Service) Pending() map[uint64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uint64]int, len(s.queues))
	for dest, ids := range s.queues {
		out[dest] = len(ids)
	}
	return out
}

// Flush delivers every queued deposit. Destinations are served concurrently,
// each in submission order; a destination whose node cannot be reached keeps
// the rest of its queue for the next flush.
func (s *Service) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	dests := make([]uint64, 0, len(s.queues))
	for dest, ids := range s.queues {
		if len(ids) > 0 {
			dests = append(dests, dest)
		}
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, dest := range dests {
		g.Go(func() error {
			return s.drainQueue(ctx, dest)
		})
	}
	return g.Wait()
}

func (s *Service) drainQueue(ctx context.Context, dest uint64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := s.head(dest)
		if rec == nil {
			return nil
		}
		if !s.deliver(ctx, rec) {
			return nil
		}
		s.pop(dest)
	}
}

func (s *Service) head(dest uint64) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ids := s.queues[dest]; len(ids) > 0 {
		return s.records[ids[0]]
	}
	return nil
}

func (s *Service) pop(dest uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[dest] = s.queues[dest][1:]
}

func (s *Service) update(rec *Record, fn func(r *Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(rec)
	rec.UpdatedAt = time.Now()
}

// deliver attempts one fill of rec and reports whether the deposit left the
// queue. Rejected fills and fills out of attempts are refunded on the origin.
func (s *Service) deliver(ctx context.Context, rec *Record) bool {
	d := rec.Deposit
	result, err := s.fill(ctx, d)
	s.update(rec, func(r *Record) { r.Attempts++ })

	var statusErr *network.StatusError
	switch {
	case err == nil:
		status := StatusFilled
		if result != nil && !result.Executed {
			status = StatusFallback
		}
		s.update(rec, func(r *Record) {
			r.Status = status
			r.Fill = result
			r.Error = ""
		})
		log.Printf("[Relayer] deposit %s %s on chain %d", d.ID, status, d.DestinationChainID)
		return true

	case errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict:
		// Settled by an earlier delivery whose response was lost.
		s.update(rec, func(r *Record) { r.Status = StatusFilled })
		log.Printf("[Relayer] deposit %s already settled on chain %d", d.ID, d.DestinationChainID)
		return true

	case errors.As(err, &statusErr) && statusErr.Status < http.StatusInternalServerError:
		log.Printf("[Relayer] deposit %s rejected by chain %d: %v", d.ID, d.DestinationChainID, err)

	case rec.Attempts < MaxAttempts:
		s.update(rec, func(r *Record) { r.Error = err.Error() })
		log.Printf("[Relayer] deposit %s: fill attempt %d failed, keeping it queued: %v", d.ID, rec.Attempts, err)
		return false

	default:
		log.Printf("[Relayer] deposit %s: giving up after %d attempts: %v", d.ID, rec.Attempts, err)
	}

	fillErr := err.Error()
	if err := s.refund(ctx, d); err != nil {
		s.update(rec, func(r *Record) {
			r.Status = StatusFailed
			r.Error = fmt.Sprintf("fill: %s; refund: %v", fillErr, err)
		})
		log.Printf("[Relayer] deposit %s: refund on chain %d failed: %v", d.ID, d.OriginChainID, err)
		return true
	}
	s.update(rec, func(r *Record) {
		r.Status = StatusRefunded
		r.Error = fillErr
	})
	log.Printf("[Relayer] deposit %s refunded on chain %d to %s", d.ID, d.OriginChainID, d.RefundAddress.Hex())
	return true
}

func (s *Service) fill(ctx context.Context, d *bridge.Deposit) (*bridge.FillResult, error) {
	url, _ := s.cfg.PeerURL(d.DestinationChainID)
	var resp struct {
		Success bool               `json:"success"`
		Result  *bridge.FillResult `json:"result"`
		Error   string             `json:"error"`
	}
	if err := network.PostJSON(ctx, s.httpClient, url+"/bridge/fill", map[string]interface{}{"deposit": d}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("fill deposit %s: %s", d.ID, resp.Error)
	}
	return resp.Result, nil
}

func (s *Service) refund(ctx context.Context, d *bridge.Deposit) error {
	url, _ := s.cfg.PeerURL(d.OriginChainID)
	err := network.PostJSON(ctx, s.httpClient, url+"/bridge/refund", map[string]interface{}{"deposit": d}, nil)
	var statusErr *network.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusConflict {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var d bridge.Deposit
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	if err := s.Submit(&d); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrDuplicateDeposit) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"deposit_id": d.ID,
		"status":     StatusQueued,
	})
}

func (s *Service) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.Record(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "deposit not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(rec)
}

func (s *Service) handleQueues(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.Pending())
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}
