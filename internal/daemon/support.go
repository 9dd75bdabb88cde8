package daemon

import (
	"encoding/json"
	"math/rand"
	"os"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/security"
	"github.com/droned/droned/internal/supervisor"
)

// newLogger builds the process-wide zerolog.Logger, grounded on the way
// aristath-portfolioManager configures its console/file writer pair and
// level filter rather than the teacher's own bare stdlib `log` usage.
func newLogger(cfg LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out *os.File = os.Stderr
	if cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			out = f
		}
	}

	var logger zerolog.Logger
	if cfg.JSON {
		logger = zerolog.New(out)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// loadOrGeneratePrimes reads the prime file, generating one with a
// generous default pool if it doesn't exist yet (first run on a fresh
// host, per spec §4.2). A file that exists but fails to load, or holds no
// primes, is overwritten with a freshly generated one.
func loadOrGeneratePrimes(path string) ([]uint32, error) {
	primes, err := readPrimeFileIfExists(path)
	if err == nil && len(primes) > 0 {
		return primes, nil
	}
	return generateDefaultPrimes(path)
}

func readPrimeFileIfExists(path string) ([]uint32, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, err
	}
	return security.LoadPrimeFile(path)
}

// persistedInstance is the journal's on-disk record of one AppInstance:
// just its identity and its enabled flag, the one piece of supervisor
// state that config reloading alone can't reliably restore (an operator's
// "disable" is a runtime decision, not something apps/*.toml tracks).
type persistedInstance struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// serializeAppKeys captures every declared app instance's identity and
// enabled flag so a restart can reapply operator disable/enable decisions
// made since the instances were last (re-)declared from config.
func serializeAppKeys(apps *supervisor.AppManager) []byte {
	records := make([]persistedInstance, 0)
	for _, inst := range apps.All() {
		records = append(records, persistedInstance{Key: inst.Key(), Enabled: inst.Enabled()})
	}
	data, _ := json.Marshal(records)
	return data
}

// restoreAppKeys re-applies each persisted instance's enabled flag onto
// the corresponding already-declared AppInstance. An instance named in
// the snapshot but no longer declared by config (app removed or
// relabeled) is silently skipped rather than recreated bare: config, not
// the journal, is the authority for what an instance is allowed to run.
func restoreAppKeys(apps *supervisor.AppManager, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var records []persistedInstance
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	for _, rec := range records {
		inst, err := apps.Lookup(rec.Key)
		if err != nil {
			continue
		}
		if rec.Enabled {
			inst.Enable()
		} else {
			inst.Disable()
		}
	}
	return nil
}

// defaultPrimeCount chooses how many 32-bit primes ship in a freshly
// generated prime file — comfortably larger than any single fan-out's peer
// count, per spec §4.2's "a few thousand is plenty" sizing note.
const defaultPrimeCount = 2000

func generateDefaultPrimes(path string) ([]uint32, error) {
	primes := make([]uint32, 0, defaultPrimeCount)
	candidate := uint32(1_000_000_007)
	for len(primes) < defaultPrimeCount {
		candidate += uint32(rand.Intn(97) + 1)
		if isPrime32(candidate) {
			primes = append(primes, candidate)
		}
	}
	if err := security.WritePrimeFile(path, primes); err != nil {
		return nil, err
	}
	return primes, nil
}

func isPrime32(n uint32) bool {
	if n < 2 {
		return false
	}
	for p := uint32(2); p*p <= n; p++ {
		if n%p == 0 {
			return false
		}
	}
	return true
}
