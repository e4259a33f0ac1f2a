package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// stability configures pollUntilStable.
type stability struct {
	Interval      time.Duration
	Timeout       time.Duration
	MinStable     time.Duration
	PollsRequired int
	FinalWait     time.Duration

	// onPoll, when set, observes every poll after completion.
	onPoll func(sig signature, consecutive int)
}

func stabilityFromConfig(cfg Config) stability {
	s := stability{
		Interval:      cfg.PollInterval,
		Timeout:       cfg.PhaseTimeout,
		MinStable:     cfg.MinStabilityTime,
		PollsRequired: cfg.StabilityPollsRequired,
		FinalWait:     cfg.FinalWait,
	}
	if s.Interval <= 0 {
		s.Interval = 500 * time.Millisecond
	}
	if s.PollsRequired <= 0 {
		s.PollsRequired = 1
	}
	return s
}

// signature is the cheap fingerprint compared across polls.
type signature struct {
	success bool
	length  int
}

func signatureOf(r *core.PhaseResult) signature {
	if r == nil {
		return signature{}
	}
	return signature{success: r.Success, length: len(r.Output)}
}

// pollUntilStable runs fn in the background and polls for completion. A
// result is accepted only after MinStable has elapsed since polling began
// and its signature matched on PollsRequired consecutive polls. When Timeout
// passes first, a completion within FinalWait is still returned; otherwise
// a timeout error is. The phase context is cancelled once this returns.
func pollUntilStable(ctx context.Context, s stability, fn func(context.Context) (*core.PhaseResult, error)) (*core.PhaseResult, error) {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		res *core.PhaseResult
		err error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err = fn(phaseCtx)
	}()

	start := time.Now()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.Timeout > 0 {
		timer := time.NewTimer(s.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var last signature
	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline:
			return finalWait(ctx, s.FinalWait, done, func() (*core.PhaseResult, error) { return res, err }, s.Timeout)

		case <-ticker.C:
			select {
			case <-done:
			default:
				continue
			}
			if err != nil {
				return nil, err
			}
			if time.Since(start) < s.MinStable {
				continue
			}
			sig := signatureOf(res)
			if consecutive > 0 && sig == last {
				consecutive++
			} else {
				last = sig
				consecutive = 1
			}
			if s.onPoll != nil {
				s.onPoll(sig, consecutive)
			}
			if consecutive >= s.PollsRequired {
				return res, nil
			}
		}
	}
}

// finalWait gives an in-flight phase one last bounded window after the hard
// timeout. A completion inside it is returned as is.
func finalWait(ctx context.Context, wait time.Duration, done <-chan struct{}, get func() (*core.PhaseResult, error), timeout time.Duration) (*core.PhaseResult, error) {
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-done:
			return get()
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		select {
		case <-done:
			return get()
		default:
		}
	}
	return nil, core.ErrTimeout(fmt.Sprintf("phase did not complete within %s", timeout))
}

// raceTimer runs fn against a single timer. Used for quick phases.
func raceTimer(ctx context.Context, timeout time.Duration, fn func(context.Context) (*core.PhaseResult, error)) (*core.PhaseResult, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	phaseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *core.PhaseResult
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, e := fn(phaseCtx)
		ch <- outcome{r, e}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-phaseCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, core.ErrTimeout(fmt.Sprintf("phase did not complete within %s", timeout))
	}
}
