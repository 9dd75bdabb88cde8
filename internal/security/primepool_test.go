package security

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testPrimes() []uint32 {
	return []uint32{7, 11, 13, 17, 19, 23}
}

func TestPrimePoolIssueThenValidate(t *testing.T) {
	p := NewPrimePool(testPrimes(), time.Minute, zerolog.Nop())
	prime := p.Issue()

	n := new(big.Int).SetUint64(uint64(prime) * 3)
	if !p.Validate(n) {
		t.Fatalf("expected Validate to succeed for a multiple of the issued prime %d", prime)
	}
	if p.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after redeeming the only active prime", p.ActiveCount())
	}
}

func TestPrimePoolValidateRejectsReuse(t *testing.T) {
	p := NewPrimePool(testPrimes(), time.Minute, zerolog.Nop())
	prime := p.Issue()
	n := new(big.Int).SetUint64(uint64(prime))

	if !p.Validate(n) {
		t.Fatalf("expected first Validate to succeed")
	}
	if p.Validate(n) {
		t.Fatalf("expected second Validate of the same redeemed prime to fail")
	}
}

func TestPrimePoolValidateRejectsZero(t *testing.T) {
	p := NewPrimePool(testPrimes(), time.Minute, zerolog.Nop())
	p.Issue()
	if p.Validate(big.NewInt(0)) {
		t.Fatal("expected Validate(0) to fail")
	}
}

func TestPrimePoolReclaimsAfterTTL(t *testing.T) {
	p := NewPrimePool(testPrimes(), 10*time.Millisecond, zerolog.Nop())
	prime := p.Issue()
	time.Sleep(50 * time.Millisecond)

	n := new(big.Int).SetUint64(uint64(prime))
	if p.Validate(n) {
		t.Fatal("expected a TTL-expired prime to no longer validate")
	}
}

func TestPrimePoolRelease(t *testing.T) {
	p := NewPrimePool(testPrimes(), time.Minute, zerolog.Nop())
	prime := p.Issue()
	p.Release(prime)
	if p.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after explicit release", p.ActiveCount())
	}
}

func TestWriteThenLoadPrimeFileRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "primes.dat")

	primes := make([]uint32, minPrimeFileBytes/4)
	for i := range primes {
		primes[i] = uint32(1000003 + i*2)
	}

	if err := WritePrimeFile(path, primes); err != nil {
		t.Fatalf("WritePrimeFile: %v", err)
	}

	got, err := LoadPrimeFile(path)
	if err != nil {
		t.Fatalf("LoadPrimeFile: %v", err)
	}
	if len(got) != len(primes) {
		t.Fatalf("LoadPrimeFile returned %d primes, want %d", len(got), len(primes))
	}
	for i := range primes {
		if got[i] != primes[i] {
			t.Fatalf("prime %d = %d, want %d", i, got[i], primes[i])
		}
	}
}

func TestLoadPrimeFileRejectsUndersizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.dat")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0600); err != nil {
		t.Fatalf("write tiny prime file: %v", err)
	}
	if _, err := LoadPrimeFile(path); err == nil {
		t.Fatal("expected LoadPrimeFile to reject an undersized file")
	}
}
