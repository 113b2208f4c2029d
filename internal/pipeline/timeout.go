package pipeline

import (
	"time"

	"github.com/n-mcmanus/wnv-shiny-ERI/internal/domain"
	"github.com/n-mcmanus/wnv-shiny-ERI/internal/mosaic"
)

// timedReader bounds every tile read. A read that overruns is reported as a
// per-date data error; the abandoned decode finishes in the background and
// its result is discarded.
type timedReader struct {
	reader  mosaic.GridReader
	timeout time.Duration
}

func withTimeout(r mosaic.GridReader, timeout time.Duration) mosaic.GridReader {
	if timeout <= 0 {
		return r
	}
	return timedReader{reader: r, timeout: timeout}
}

func (r timedReader) ReadSpec(path string) (domain.GridSpec, error) {
	type result struct {
		spec domain.GridSpec
		err  error
	}
	done := make(chan result, 1)
	go func() {
		spec, err := r.reader.ReadSpec(path)
		done <- result{spec, err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.spec, res.err
	case <-timer.C:
		return domain.GridSpec{}, domain.DateDataErrorf("read header %s timed out after %s", path, r.timeout)
	}
}

func (r timedReader) Read(path string) (*domain.Grid, error) {
	type result struct {
		grid *domain.Grid
		err  error
	}
	done := make(chan result, 1)
	go func() {
		g, err := r.reader.Read(path)
		done <- result{g, err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.grid, res.err
	case <-timer.C:
		return nil, domain.DateDataErrorf("read %s timed out after %s", path, r.timeout)
	}
}
