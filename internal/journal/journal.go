package journal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
	"github.com/droned/droned/internal/eventbus"
	"github.com/droned/droned/internal/telemetry"
	"github.com/droned/droned/internal/workerpool"
)

// RetainCount is how many of the most recent snapshot files are kept.
const RetainCount = 60

// snapshotPoolSize bounds how many sources' Serialize functions run at
// once during a Snapshot — those calls are arbitrary blocking work (a DB
// read, a subprocess probe) per spec §5's "blocking syscalls run in a
// worker pool", not something Snapshot should serialize source-by-source.
const snapshotPoolSize = 4

// SnapshotSchedule matches the periodic-sweep cadence used elsewhere in
// this codebase for background maintenance work.
const SnapshotSchedule = "@every 60s"

// Source is a named entity kind the journal knows how to snapshot and, on
// startup, reconstruct — the construct-hook half of the entity identity
// contract.
type Source struct {
	Name      string
	Serialize func() ([]byte, error)
	Restore   func([]byte) error
}

// Journal periodically writes every registered Source's current state to
// a single snapshot file under dir, named by the Unix timestamp it was
// taken, and keeps only the RetainCount most recent such files.
type Journal struct {
	dir   string
	idx   *index
	bus   *eventbus.Bus
	cron  *cron.Cron
	pool  *workerpool.Pool
	log   zerolog.Logger

	mu      sync.Mutex
	sources []Source
}

// Open creates or opens the journal directory and its index.
func Open(dir string, bus *eventbus.Bus, log zerolog.Logger) (*Journal, error) {
	idx, err := openIndex(dir)
	if err != nil {
		return nil, err
	}
	return &Journal{
		dir:  dir,
		idx:  idx,
		bus:  bus,
		cron: cron.New(),
		pool: workerpool.New(snapshotPoolSize),
		log:  log.With().Str("component", "journal").Logger(),
	}, nil
}

// Register adds a source that future Snapshot calls include.
func (j *Journal) Register(s Source) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sources = append(j.sources, s)
}

// Start installs the periodic snapshot cron job.
func (j *Journal) Start() error {
	_, err := j.cron.AddFunc(SnapshotSchedule, func() {
		if err := j.Snapshot(); err != nil {
			j.log.Error().Err(err).Msg("periodic snapshot failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule journal snapshot: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the periodic snapshot job, drains the snapshot worker pool,
// and closes the index.
func (j *Journal) Stop() error {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.pool.Close()
	return j.idx.close()
}

// snapshotFile is the on-disk framing for one source's serialized bytes
// within a snapshot: a name and the payload, one element of a JSON array
// per registered source, so a partially-written file fails to parse and is
// detectable as corrupt rather than silently truncated.
type snapshotFile struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Snapshot writes every registered source's current state to a new
// <dir>/<unix-ts>.snapshot file and prunes anything beyond RetainCount.
func (j *Journal) Snapshot() error {
	j.mu.Lock()
	sources := make([]Source, len(j.sources))
	copy(sources, j.sources)
	j.mu.Unlock()

	entries := make([]snapshotFile, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup
	for i, s := range sources {
		i, s := i, s
		wg.Add(1)
		submitErr := j.pool.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			data, err := s.Serialize()
			if err != nil {
				errs[i] = fmt.Errorf("%w: source %s: %v", domain.ErrSerializeFailed, s.Name, err)
				return
			}
			entries[i] = snapshotFile{Name: s.Name, Data: data}
		})
		if submitErr != nil {
			wg.Done()
			errs[i] = fmt.Errorf("%w: source %s: %v", domain.ErrSerializeFailed, s.Name, submitErr)
		}
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	now := time.Now().Unix()
	filename := fmt.Sprintf("%d.snapshot", now)
	path := filepath.Join(j.dir, filename)

	payload, err := encodeSnapshot(entries)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSerializeFailed, err)
	}
	if err := os.WriteFile(path, payload, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := j.idx.record(now, filename, int64(len(payload))); err != nil {
		return fmt.Errorf("record snapshot in index: %w", err)
	}

	if err := j.prune(); err != nil {
		j.log.Warn().Err(err).Msg("snapshot retention prune failed")
	}

	telemetry.JournalSnapshots.Inc()
	return nil
}

// prune removes every snapshot file beyond the RetainCount most recent.
func (j *Journal) prune() error {
	rows, err := j.idx.list()
	if err != nil {
		return err
	}
	if len(rows) <= RetainCount {
		return nil
	}

	sort.Slice(rows, func(i, k int) bool { return rows[i].UnixTS > rows[k].UnixTS })
	cutoff := rows[RetainCount-1].UnixTS

	names, err := j.idx.deleteOlderThan(cutoff)
	if err != nil {
		return err
	}
	for _, name := range names {
		os.Remove(filepath.Join(j.dir, name)) //nolint:errcheck
	}
	return nil
}

// LoadLatest reads the most recent non-corrupt snapshot and calls each
// registered source's Restore with its corresponding payload. A snapshot
// that fails to parse is renamed aside (never deleted) and a
// "journal-error" event fires; LoadLatest then falls back to the
// next-most-recent snapshot.
func (j *Journal) LoadLatest() error {
	rows, err := j.idx.list()
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Corrupt {
			continue
		}
		path := filepath.Join(j.dir, row.Filename)
		data, err := os.ReadFile(path)
		if err != nil {
			j.quarantine(row)
			continue
		}
		entries, err := decodeSnapshot(data)
		if err != nil {
			j.quarantine(row)
			continue
		}
		return j.restore(entries)
	}

	return nil
}

func (j *Journal) quarantine(row snapshotRow) {
	j.log.Warn().Str("file", row.Filename).Msg("corrupt snapshot, quarantining")
	if err := j.idx.markCorrupt(row.UnixTS); err != nil {
		j.log.Error().Err(err).Msg("failed to mark snapshot corrupt in index")
	}
	src := filepath.Join(j.dir, row.Filename)
	dst := src + ".corrupt"
	os.Rename(src, dst) //nolint:errcheck
	telemetry.JournalErrors.Inc()
	j.bus.Fire("journal-error", row.Filename)
}

func (j *Journal) restore(entries []snapshotFile) error {
	j.mu.Lock()
	sources := make(map[string]Source, len(j.sources))
	for _, s := range j.sources {
		sources[s.Name] = s
	}
	j.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		s, ok := sources[e.Name]
		if !ok || s.Restore == nil {
			continue
		}
		if err := s.Restore(e.Data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore source %s: %w", e.Name, err)
		}
	}
	return firstErr
}

// WriteSnapshot implements blaster.Gremlin: it streams the most recently
// taken snapshot payload, giving the /gremlin endpoint a read-only view of
// every serializable entity without re-deriving it from live state.
func (j *Journal) WriteSnapshot(w io.Writer) error {
	rows, err := j.idx.list()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(j.dir, rows[0].Filename))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
