package config

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnauthorized is returned when a runtime setter is called by anyone but
// the configured authority.
var ErrUnauthorized = errors.New("caller is not the configuration authority")

// Runtime is the point-in-time view of the mutable configuration. The engine
// takes a fresh view at the start of every invocation; stale views are never
// reused across invocations.
type Runtime struct {
	ExecutionWindow        time.Duration
	MaxBatchSize           int
	MinProfitThreshold     *big.Int
	MaxGasPrice            *big.Int
	UltraAggressiveEnabled bool
	BatchEnabled           bool
	Providers              map[string]common.Address
	Competitors            map[common.Address]bool
	Ranking                []RankedToken
	Whitelist              map[common.Address]bool
}

// Store holds the owner-mutable runtime configuration behind a single
// authority gate.
type Store struct {
	mu        sync.RWMutex
	authority common.Address
	cur       Runtime
}

// NewStore builds a store from a validated file config.
func NewStore(cfg *Config) (*Store, error) {
	if cfg.Authority == "" {
		return nil, fmt.Errorf("authority address is required")
	}

	threshold := big.NewInt(0)
	if cfg.MinProfitThreshold != "" {
		threshold, _ = new(big.Int).SetString(cfg.MinProfitThreshold, 10)
	}
	maxGasPrice := big.NewInt(0)
	if cfg.MaxGasPrice != "" {
		maxGasPrice, _ = new(big.Int).SetString(cfg.MaxGasPrice, 10)
	}

	providers := make(map[string]common.Address, len(cfg.Providers))
	for name, addr := range cfg.Providers {
		providers[name] = common.HexToAddress(addr)
	}
	competitors := make(map[common.Address]bool, len(cfg.Competitors))
	for _, addr := range cfg.Competitors {
		competitors[common.HexToAddress(addr)] = true
	}
	whitelist := make(map[common.Address]bool, len(cfg.Whitelist))
	for _, addr := range cfg.Whitelist {
		whitelist[common.HexToAddress(addr)] = true
	}

	return &Store{
		authority: common.HexToAddress(cfg.Authority),
		cur: Runtime{
			ExecutionWindow:        cfg.ExecutionWindow,
			MaxBatchSize:           cfg.MaxBatchSize,
			MinProfitThreshold:     threshold,
			MaxGasPrice:            maxGasPrice,
			UltraAggressiveEnabled: cfg.UltraAggressiveEnabled,
			BatchEnabled:           cfg.BatchEnabled,
			Providers:              providers,
			Competitors:            competitors,
			Ranking:                cfg.Ranking(),
			Whitelist:              whitelist,
		},
	}, nil
}

// Authority returns the configured authority address.
func (s *Store) Authority() common.Address {
	return s.authority
}

// View returns a copy of the current runtime configuration.
func (s *Store) View() Runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.cur
	v.MinProfitThreshold = new(big.Int).Set(s.cur.MinProfitThreshold)
	v.MaxGasPrice = new(big.Int).Set(s.cur.MaxGasPrice)
	v.Providers = make(map[string]common.Address, len(s.cur.Providers))
	for name, addr := range s.cur.Providers {
		v.Providers[name] = addr
	}
	v.Competitors = make(map[common.Address]bool, len(s.cur.Competitors))
	for addr := range s.cur.Competitors {
		v.Competitors[addr] = true
	}
	v.Whitelist = make(map[common.Address]bool, len(s.cur.Whitelist))
	for addr := range s.cur.Whitelist {
		v.Whitelist[addr] = true
	}
	v.Ranking = append([]RankedToken(nil), s.cur.Ranking...)
	return v
}

// IsAuthorized reports whether caller may start an invocation.
func (s *Store) IsAuthorized(caller common.Address) bool {
	if caller == s.authority {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Whitelist[caller]
}

// IsCompetitor reports whether addr is in the competitor registry.
func (s *Store) IsCompetitor(addr common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Competitors[addr]
}

func (s *Store) gate(caller common.Address) error {
	if caller != s.authority {
		return ErrUnauthorized
	}
	return nil
}

// SetExecutionWindow updates the standard-mode time budget.
func (s *Store) SetExecutionWindow(caller common.Address, window time.Duration) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	if window <= 0 {
		return fmt.Errorf("execution window must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.ExecutionWindow = window
	return nil
}

// SetMaxBatchSize updates the batch cap.
func (s *Store) SetMaxBatchSize(caller common.Address, size int) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	if size <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.MaxBatchSize = size
	return nil
}

// SetMinProfitThreshold updates the global profit floor.
func (s *Store) SetMinProfitThreshold(caller common.Address, threshold *big.Int) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	if threshold == nil || threshold.Sign() < 0 {
		return fmt.Errorf("threshold must be non-negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.MinProfitThreshold = new(big.Int).Set(threshold)
	return nil
}

// SetMaxGasPrice updates the per-loan cost ceiling. Zero disables the check.
func (s *Store) SetMaxGasPrice(caller common.Address, ceiling *big.Int) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	if ceiling == nil || ceiling.Sign() < 0 {
		return fmt.Errorf("ceiling must be non-negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.MaxGasPrice = new(big.Int).Set(ceiling)
	return nil
}

// SetUltraAggressiveEnabled toggles mode 2.
func (s *Store) SetUltraAggressiveEnabled(caller common.Address, enabled bool) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.UltraAggressiveEnabled = enabled
	return nil
}

// SetBatchEnabled toggles mode 3.
func (s *Store) SetBatchEnabled(caller common.Address, enabled bool) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.BatchEnabled = enabled
	return nil
}

// SetProviderAddress updates a provider contract address.
func (s *Store) SetProviderAddress(caller common.Address, name string, addr common.Address) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Providers[name] = addr
	return nil
}

// AddCompetitor registers a competitor address.
func (s *Store) AddCompetitor(caller, addr common.Address) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Competitors[addr] = true
	return nil
}

// RemoveCompetitor drops a competitor address.
func (s *Store) RemoveCompetitor(caller, addr common.Address) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cur.Competitors, addr)
	return nil
}

// AddToWhitelist authorizes an executor address.
func (s *Store) AddToWhitelist(caller, addr common.Address) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Whitelist[addr] = true
	return nil
}

// SetRanking replaces the token ranking policy.
func (s *Store) SetRanking(caller common.Address, ranking []RankedToken) error {
	if err := s.gate(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Ranking = append([]RankedToken(nil), ranking...)
	return nil
}
