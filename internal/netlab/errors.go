package netlab

import "errors"

// Sentinel errors.
//
// Transient command failures are not represented here: they surface as
// wrapped errors from the retry layer. These sentinels mark the
// non-retryable conditions a test wants to assert on.
var (
	// ErrPoolExhausted indicates a bridge subnet has no further
	// allocatable addresses. The cursor never wraps.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrNoSubnet indicates an address was requested from a bridge
	// created without addressing.
	ErrNoSubnet = errors.New("bridge carries no subnet")

	// ErrNoCommonSegment indicates two containers share no IP-reachable
	// segment, so no peering address pair can be derived. This is a
	// topology-declaration mistake, never retried.
	ErrNoCommonSegment = errors.New("containers share no common reachable segment")

	// ErrTimeout indicates a convergence poll (WaitForState,
	// WaitReachable) elapsed without observing the expected condition.
	ErrTimeout = errors.New("convergence timeout")

	// ErrNoBackend indicates a BGP operation was invoked on a container
	// with no bound backend driver. A programming error, always fatal.
	ErrNoBackend = errors.New("no BGP backend bound")

	// ErrUnsupportedFamily indicates a prefix whose address family the
	// reachability check cannot probe.
	ErrUnsupportedFamily = errors.New("unsupported address family")
)
