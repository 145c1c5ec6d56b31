package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-aside/v1/aside"
)

type stampedeOptions struct {
	key     string
	callers int
	delay   time.Duration
	ttl     time.Duration
	async   bool
}

func newStampedeCmd(opts *rootOptions) *cobra.Command {
	so := stampedeOptions{}
	cmd := &cobra.Command{
		Use:   "stampede",
		Short: "Fire concurrent get-or-set calls at one key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			b, err := openBackends(cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()
			cache, err := b.timestampCache()
			if err != nil {
				return err
			}
			rep, err := runStampede(cmd.Context(), cache, so)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&so.key, "key", "stampede", "cache key")
	cmd.Flags().IntVarP(&so.callers, "callers", "n", 32, "concurrent callers")
	cmd.Flags().DurationVar(&so.delay, "delay", 200*time.Millisecond, "simulated producer latency")
	cmd.Flags().DurationVar(&so.ttl, "ttl", 2*time.Second, "entry ttl")
	cmd.Flags().BoolVar(&so.async, "async", false, "use the suspending variant")
	return cmd
}

type stampedeReport struct {
	callers  int
	produced int64
	outcomes map[aside.Outcome]int
	elapsed  time.Duration
}

func (r stampedeReport) String() string {
	keys := make([]string, 0, len(r.outcomes))
	for o := range r.outcomes {
		keys = append(keys, string(o))
	}
	sort.Strings(keys)
	s := fmt.Sprintf("callers: %d\nproducer ran: %d\nelapsed: %s\n", r.callers, r.produced, r.elapsed.Round(time.Millisecond))
	for _, k := range keys {
		s += fmt.Sprintf("%s: %d\n", k, r.outcomes[aside.Outcome(k)])
	}
	return s
}

func runStampede(ctx context.Context, cache *aside.Cache[time.Time], so stampedeOptions) (stampedeReport, error) {
	var produced atomic.Int64
	produce := func(ctx context.Context) (time.Time, error) {
		produced.Add(1)
		return timerClock(so.delay)(ctx)
	}

	var mu sync.Mutex
	rep := stampedeReport{callers: so.callers, outcomes: make(map[aside.Outcome]int)}
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for range so.callers {
		g.Go(func() error {
			var (
				res aside.Result[time.Time]
				err error
			)
			if so.async {
				res, err = cache.FetchAsync(gctx, so.key, produce, so.ttl).Await(gctx)
			} else {
				res, err = cache.Fetch(gctx, so.key, produce, so.ttl)
			}
			if err != nil {
				return err
			}
			mu.Lock()
			rep.outcomes[res.Outcome]++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	rep.produced = produced.Load()
	rep.elapsed = time.Since(start)
	return rep, err
}
