package journal

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"paddlearena/gameserver/internal/logging"
)

// RetentionPolicy defines how many journal bundles are retained on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted journals.
type StorageStats struct {
	Matches   int
	Bytes     int64
	LastSweep time.Time
}

// Sweeper prunes journal bundles according to a retention policy. It is
// driven externally, typically from a scheduled maintenance job.
type Sweeper struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewSweeper constructs a sweeper for the provided journal directory.
func NewSweeper(dir string, policy RetentionPolicy, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.L()
	}
	return &Sweeper{dir: dir, policy: policy, log: logger, now: time.Now}
}

type bundle struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

// Sweep scans the journal directory once and removes bundles that fall
// outside the retention policy.
func (s *Sweeper) Sweep() {
	if s == nil || strings.TrimSpace(s.dir) == "" {
		return
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("journal retention scan failed", logging.Error(err), logging.String("directory", s.dir))
		return
	}

	//1.- Collect bundle directories newest-first so limits favour recent matches.
	bundles := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			s.log.Warn("journal retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			s.log.Warn("journal retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		bundles = append(bundles, bundle{name: entry.Name(), path: path, size: size, modTime: info.ModTime()})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })

	now := s.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		expired := s.policy.MaxAge > 0 && now.Sub(b.modTime) > s.policy.MaxAge
		overCount := s.policy.MaxMatches > 0 && kept >= s.policy.MaxMatches
		if expired || overCount {
			//2.- Remove the whole bundle so manifest, events and frames go together.
			if err := os.RemoveAll(b.path); err != nil {
				s.log.Warn("journal retention removal failed", logging.Error(err), logging.String("bundle", b.name))
			} else {
				s.log.Info("journal retention removed bundle", logging.String("bundle", b.name))
				continue
			}
		}
		kept++
		stats.Matches++
		stats.Bytes += b.size
	}
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

// Stats returns the statistics captured by the most recent sweep.
func (s *Sweeper) Stats() StorageStats {
	if s == nil {
		return StorageStats{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, walkErr
}
