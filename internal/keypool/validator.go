package keypool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gptproxy/gptproxy/internal/models"
	log "github.com/sirupsen/logrus"
)

// Validator re-tests inactive keys against the upstream provider on a
// schedule. A key that answers 200 is promoted back to active; anything else
// leaves it inactive for the next cycle. Active keys are not probed (live
// traffic already exercises them) and revoked keys are never probe targets;
// revocation is an operator decision and only an operator reverses it.
type Validator struct {
	store         Store
	selector      *Selector
	client        *http.Client
	validationURL string
	concurrency   int
	running       atomic.Bool
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	ValidationURL string
	ProbeTimeout  time.Duration
	Concurrency   int
}

// CycleReport summarizes one validation cycle.
type CycleReport struct {
	Checked  int           `json:"checked"`
	Promoted int           `json:"promoted"`
	Elapsed  time.Duration `json:"-"`
}

// NewValidator constructs a Validator.
func NewValidator(store Store, selector *Selector, opts ValidatorOptions) *Validator {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Validator{
		store:         store,
		selector:      selector,
		client:        &http.Client{Timeout: opts.ProbeTimeout},
		validationURL: opts.ValidationURL,
		concurrency:   concurrency,
	}
}

// Start runs validation cycles every interval until ctx is cancelled. The
// first cycle runs immediately so a freshly started instance does not sit on
// a stale pool for a whole interval.
func (v *Validator) Start(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, errCycle := v.RunCycle(ctx); errCycle != nil && errCycle != ErrCycleRunning {
			log.WithError(errCycle).Error("key validation cycle failed")
		}
		timer.Reset(interval)
	}
}

// Running reports whether a cycle is currently in flight.
func (v *Validator) Running() bool { return v.running.Load() }

// RunCycle probes every inactive key once. Only one cycle runs at a time; a
// call that overlaps a running cycle returns ErrCycleRunning without probing
// anything.
func (v *Validator) RunCycle(ctx context.Context) (CycleReport, error) {
	if !v.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleRunning
	}
	defer v.running.Store(false)

	started := time.Now()
	keys, errList := v.store.ListByStatus(ctx, models.KeyStatusInactive, 0)
	if errList != nil {
		return CycleReport{}, errList
	}
	if len(keys) == 0 {
		return CycleReport{}, nil
	}

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, v.concurrency)
		promoted atomic.Int64
	)
	for i := range keys {
		key := keys[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if v.probeOne(ctx, key) {
				promoted.Add(1)
			}
		}()
	}
	wg.Wait()

	if promoted.Load() > 0 {
		// Promotions happened behind the cached rotation snapshot.
		v.selector.Invalidate()
	}

	report := CycleReport{
		Checked:  len(keys),
		Promoted: int(promoted.Load()),
		Elapsed:  time.Since(started),
	}
	log.WithFields(log.Fields{
		"checked":  report.Checked,
		"promoted": report.Promoted,
		"elapsed":  report.Elapsed.Round(time.Millisecond).String(),
	}).Info("key validation cycle finished")
	return report, nil
}

// probeOne checks a single inactive key and promotes it on success. It
// reports whether a promotion happened.
func (v *Validator) probeOne(ctx context.Context, key models.Key) bool {
	statusCode, errProbe := v.probe(ctx, key.Secret)

	result := models.ProbeResult{
		OK:         errProbe == nil && statusCode == http.StatusOK,
		StatusCode: statusCode,
		CheckedAt:  time.Now().UTC(),
	}
	if errProbe != nil {
		result.Message = errProbe.Error()
	} else if !result.OK {
		result.Message = http.StatusText(statusCode)
	}
	if errStore := v.store.SetLastProbe(ctx, key.ID, result); errStore != nil && errStore != ErrKeyNotFound {
		log.WithError(errStore).WithField("key_id", key.ID).Warn("failed to record probe result")
	}

	logger := log.WithFields(log.Fields{"key_id": key.ID, "status_code": statusCode})
	switch {
	case result.OK:
		swapped, errSwap := v.store.CompareAndSwapStatus(ctx, key.ID, models.KeyStatusInactive, models.KeyStatusActive)
		if errSwap != nil && errSwap != ErrKeyNotFound {
			logger.WithError(errSwap).Warn("failed to reactivate key")
			return false
		}
		if swapped {
			logger.Info("key passed validation, reactivated")
			return true
		}
		return false
	case errProbe != nil:
		// Transient: the probe never reached a verdict. Not the same thing
		// as a confirmed-invalid key, so keep it out of the Warn stream.
		logger.WithError(errProbe).Info("key probe did not complete, will retry next cycle")
		return false
	default:
		logger.Warn("key failed validation, stays inactive")
		return false
	}
}

// probe performs one authenticated GET against the validation endpoint.
func (v *Validator) probe(ctx context.Context, secret string) (int, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, v.validationURL, nil)
	if errReq != nil {
		return 0, fmt.Errorf("keypool: build probe request: %w", errReq)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, errDo := v.client.Do(req)
	if errDo != nil {
		return 0, fmt.Errorf("keypool: probe request: %w", errDo)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
