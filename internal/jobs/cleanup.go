package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/klimadev/chamalead-sub000/internal/cache"
)

// CleanupJob periodically prunes expired and unreadable cache entries so
// the cache directory does not accumulate dead files between reads.
type CleanupJob struct {
	cache    *cache.Cache
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(store *cache.Cache, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		cache:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cache cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cache cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	if count := j.cache.SweepExpired(); count > 0 {
		log.Info().Int64("count", count).Msg("cleaned up expired cache entries")
	}
}
