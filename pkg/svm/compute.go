package svm

import (
	"sync/atomic"
)

// Compute unit costs.
const (
	CUDefault              = uint64(200_000)   // default transaction budget
	CUMax                  = uint64(1_400_000) // hard cap
	CUInvokeBase           = uint64(1_000)     // per cross-program invocation
	CUSystemProgramDefault = uint64(150)
	CULeaderboardBase      = uint64(2_000)
	CULogBase              = uint64(100)
)

// ComputeMeter tracks compute unit consumption for one transaction.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a new compute meter with the specified limit.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume charges cost units or returns ErrComputationalBudgetExceeded,
// draining the meter.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputationalBudgetExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
