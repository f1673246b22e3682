package tiled

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/joeblew999/tiledgeojson/internal/fetch"
	"github.com/joeblew999/tiledgeojson/internal/loop"
)

// loader runs document fetches for a layer.
type loader struct {
	fetcher   fetch.Fetcher
	sched     loop.Scheduler
	retryBase time.Duration
	log       log.FieldLogger
}

// retrieve fetches name off the loop and hands the bytes to parse on the
// loop. A fetch error or a parse error schedules another attempt after an
// exponentially growing delay; attempts continue until parse succeeds or
// ctx is cancelled.
func (ld *loader) retrieve(ctx context.Context, name string, parse func([]byte) error) {
	backoff := fetch.NewBackoff(ld.retryBase)

	var attempt func()
	attempt = func() {
		if ctx.Err() != nil {
			return
		}
		ld.sched.Go(func() {
			data, err := ld.fetcher.Fetch(ctx, name)
			ld.sched.Post(func() {
				if ctx.Err() != nil {
					return
				}
				if err == nil {
					err = parse(data)
				}
				if err == nil {
					return
				}
				delay := backoff.Next()
				ld.log.WithFields(log.Fields{
					"path":    name,
					"attempt": backoff.Retries(),
					"delay":   delay,
				}).WithError(err).Warn("fetch failed, retrying")
				ld.sched.AfterFunc(delay, attempt)
			})
		})
	}
	attempt()
}
