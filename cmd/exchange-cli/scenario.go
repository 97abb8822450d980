package main

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/go-exchange/exchange"
	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/stream"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run: canned downstream responses and the operations
// to send through the pipeline.
type Scenario struct {
	Responses []Response `yaml:"responses"`
	Steps     []Step     `yaml:"steps"`
}

// Response is what the downstream returns for a query text.
type Response struct {
	Query   string            `yaml:"query"`
	Results []exchange.Result `yaml:"results"`
	Error   string            `yaml:"error,omitempty"`
	Delay   string            `yaml:"delay,omitempty"`

	delay time.Duration
}

// Step is one operation of a scenario.
type Step struct {
	Name      string         `yaml:"name,omitempty"`
	Kind      exchange.Kind  `yaml:"kind,omitempty"`
	Query     string         `yaml:"query"`
	Variables map[string]any `yaml:"variables,omitempty"`
	SkipCache bool           `yaml:"skipCache,omitempty"`
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(buf []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(buf, &sc); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}
	if len(sc.Steps) == 0 {
		return nil, errors.New("scenario has no steps")
	}
	seen := make(map[string]bool, len(sc.Responses))
	for i := range sc.Responses {
		resp := &sc.Responses[i]
		if resp.Query == "" {
			return nil, errors.Newf("response %d has no query", i+1)
		}
		if seen[resp.Query] {
			return nil, errors.Newf("duplicate response for %q", resp.Query)
		}
		seen[resp.Query] = true
		if resp.Delay != "" {
			d, err := str2duration.ParseDuration(resp.Delay)
			if err != nil {
				return nil, errors.Wrapf(err, "response %d delay", i+1)
			}
			resp.delay = d
		}
	}
	for i := range sc.Steps {
		step := &sc.Steps[i]
		if step.Kind == "" {
			step.Kind = exchange.KindQuery
		}
		switch step.Kind {
		case exchange.KindQuery, exchange.KindMutation, exchange.KindSubscription, exchange.KindTeardown:
		default:
			return nil, errors.Newf("step %d has unknown kind %q", i+1, step.Kind)
		}
	}
	return &sc, nil
}

// downstream serves a scenario's canned responses and counts requests.
type downstream struct {
	mu        sync.Mutex
	responses map[string]*Response
	requests  int
}

func newDownstream(sc *Scenario) *downstream {
	d := &downstream{responses: make(map[string]*Response, len(sc.Responses))}
	for i := range sc.Responses {
		d.responses[sc.Responses[i].Query] = &sc.Responses[i]
	}
	return d
}

func (d *downstream) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests
}

func (d *downstream) factory(exchange.Client, exchange.Exchange) exchange.Exchange {
	return d.exchange
}

func (d *downstream) exchange(op *exchange.Operation) *stream.Stream[*exchange.Result] {
	d.mu.Lock()
	d.requests++
	resp, ok := d.responses[op.Query]
	d.mu.Unlock()
	if !ok {
		return stream.Fail[*exchange.Result](errors.Newf("no response for %q", op.Query))
	}
	return stream.Go(func(ctx context.Context, emit func(*exchange.Result)) error {
		for _, r := range resp.Results {
			if resp.delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(resp.delay):
				}
			}
			res := r
			res.Operation = op
			emit(&res)
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		return nil
	})
}

const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

// Report is the outcome of one step.
type Report struct {
	Step    int                `json:"step"`
	Name    string             `json:"name,omitempty"`
	Kind    exchange.Kind      `json:"kind"`
	Key     string             `json:"key"`
	Source  string             `json:"source"`
	Results []*exchange.Result `json:"results"`
	Error   string             `json:"error,omitempty"`
}

// Run sends every step through a cache exchange in front of the scenario's
// downstream. Cache effects are settled between steps so each step sees the
// writes and evictions of the previous ones. maxWrites bounds how many of a
// step's effects run at once; zero means the exchange default.
func Run(ctx context.Context, log logger.Logger, client exchange.Client, sc *Scenario, maxWrites int64, opts ...exchange.Option) ([]Report, error) {
	down := newDownstream(sc)
	tasks := exchange.NewTasks(ctx, log, maxWrites)
	opts = append([]exchange.Option{exchange.WithLogger(log), exchange.WithBaseContext(ctx)}, opts...)
	opts = append(opts, exchange.WithTasks(tasks))
	pipeline := exchange.Compose(client, exchange.CacheExchange(opts...), down.factory)

	reports := make([]Report, 0, len(sc.Steps))
	for i, step := range sc.Steps {
		op, err := exchange.NewOperation(step.Kind, step.Query, step.Variables, exchange.Context{SkipCache: step.SkipCache})
		if err != nil {
			return reports, errors.Wrapf(err, "step %d", i+1)
		}
		before := down.count()
		results, err := stream.Collect(ctx, pipeline(op))
		tasks.Wait()
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		report := Report{
			Step:    i + 1,
			Name:    step.Name,
			Kind:    op.Kind,
			Key:     op.Key,
			Source:  SourceNetwork,
			Results: results,
		}
		if down.count() == before {
			report.Source = SourceCache
		}
		if err != nil {
			report.Error = err.Error()
		}
		log.Debug("step %d %s %s from %s", report.Step, op.Kind, op.Key, report.Source)
		reports = append(reports, report)
	}
	return reports, nil
}
