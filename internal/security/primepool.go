package security

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
)

// DefaultPrimeTTL is how long an issued prime stays redeemable before it is
// reclaimed, per spec §4.2.
const DefaultPrimeTTL = 120 * time.Second

// minPrimeFileBytes and the "multiple of 4" rule come from spec §4.2: the
// prime file is a flat array of big-endian uint32 primes.
const minPrimeFileBytes = 4000

// PrimePool issues and redeems one-shot 32-bit primes used as blaster
// nonces. All three operations (issue/validate/release) are mutually
// exclusive behind a single mutex, mirroring the teacher's engine.Pool
// (one mutex guarding a map plus an LRU list) — here the "eviction" policy
// is simply a TTL timer per entry instead of LRU.
type PrimePool struct {
	mu     sync.Mutex
	primes []uint32
	active map[uint32]*time.Timer
	ttl    time.Duration
	log    zerolog.Logger
}

// LoadPrimeFile validates and loads a flat file of big-endian uint32
// primes. The file must be a positive multiple of 4 bytes and at least
// minPrimeFileBytes long (spec §4.2).
func LoadPrimeFile(path string) ([]uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prime file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size <= 0 || size%4 != 0 || size < minPrimeFileBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", domain.ErrPrimeFileInvalid, path, size)
	}

	primes := make([]uint32, 0, size/4)
	r := bufio.NewReader(f)
	buf := make([]byte, 4)
	for {
		if _, err := readFull(r, buf); err != nil {
			break
		}
		primes = append(primes, binary.BigEndian.Uint32(buf))
	}
	if len(primes) == 0 {
		return nil, fmt.Errorf("%w: no primes read", domain.ErrPrimeFileInvalid)
	}
	return primes, nil
}

// WritePrimeFile writes primes as a flat big-endian uint32 array, the
// inverse of LoadPrimeFile. Used to generate a fresh prime file on first
// run (spec §4.2).
func WritePrimeFile(path string, primes []uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create prime file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for _, p := range primes {
		binary.BigEndian.PutUint32(buf, p)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write prime file: %w", err)
		}
	}
	return w.Flush()
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// NewPrimePool creates a pool drawing from primes, with the given TTL
// (DefaultPrimeTTL if zero).
func NewPrimePool(primes []uint32, ttl time.Duration, log zerolog.Logger) *PrimePool {
	if ttl == 0 {
		ttl = DefaultPrimeTTL
	}
	return &PrimePool{
		primes: primes,
		active: make(map[uint32]*time.Timer),
		ttl:    ttl,
		log:    log.With().Str("component", "primepool").Logger(),
	}
}

// Issue picks a random prime, marks it active, and schedules its reclaim
// after the TTL.
func (p *PrimePool) Issue() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	prime := p.primes[rand.Intn(len(p.primes))]
	if old, ok := p.active[prime]; ok {
		old.Stop()
	}
	p.active[prime] = time.AfterFunc(p.ttl, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.active, prime)
	})
	return prime
}

// Validate reports whether some active prime divides n, and if so redeems
// it (removes it from the active set) so it cannot validate a second
// envelope.
func (p *PrimePool) Validate(n *big.Int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n.Sign() == 0 {
		return false
	}
	for prime, timer := range p.active {
		bigPrime := new(big.Int).SetUint64(uint64(prime))
		mod := new(big.Int)
		mod.Mod(n, bigPrime)
		if mod.Sign() == 0 {
			timer.Stop()
			delete(p.active, prime)
			return true
		}
	}
	return false
}

// Release unconditionally removes prime from the active set.
func (p *PrimePool) Release(prime uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.active[prime]; ok {
		timer.Stop()
		delete(p.active, prime)
	}
}

// ActiveCount returns the number of currently redeemable primes (used by
// tests and by the blaster server's primes_active gauge).
func (p *PrimePool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
