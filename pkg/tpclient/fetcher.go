package tpclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
)

// DefaultMinInterval is the minimum spacing between two fetches of the same listing.
const DefaultMinInterval = 1500 * time.Millisecond

type fetchResult struct {
	at    time.Time
	value interface{}
}

// Fetcher wraps list reads with in-flight coalescing, throttling and search
// supersession. Returned pages may be shared between callers and must not be
// mutated.
type Fetcher struct {
	client      *Client
	minInterval time.Duration
	now         func() time.Time

	group singleflight.Group

	mu           sync.Mutex
	recent       map[string]fetchResult
	searchSeq    uint64
	searchCancel context.CancelFunc
}

// NewFetcher wraps client. A non-positive minInterval uses DefaultMinInterval.
func NewFetcher(client *Client, minInterval time.Duration) *Fetcher {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Fetcher{
		client:      client,
		minInterval: minInterval,
		now:         time.Now,
		recent:      make(map[string]fetchResult),
	}
}

// LessonPlans lists lesson plans, reusing an identical in-flight or recent read.
func (f *Fetcher) LessonPlans(ctx context.Context, query dto.LessonPlanQuery) (*LessonPlanPage, error) {
	key := fmt.Sprintf("lesson-plans?%s", lessonPlanValues(query).Encode())
	value, err := f.fetch(ctx, key, func(ctx context.Context) (interface{}, error) {
		return f.client.ListLessonPlans(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return value.(*LessonPlanPage), nil
}

// Observations lists observation schedules, reusing an identical in-flight or recent read.
func (f *Fetcher) Observations(ctx context.Context, query dto.ObservationQuery) (*ObservationPage, error) {
	key := fmt.Sprintf("observations?%s", observationValues(query).Encode())
	value, err := f.fetch(ctx, key, func(ctx context.Context) (interface{}, error) {
		return f.client.ListObservations(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return value.(*ObservationPage), nil
}

// SearchLessonPlans runs a lesson plan search and cancels any search still in
// flight. A search cancelled this way returns ErrSuperseded.
func (f *Fetcher) SearchLessonPlans(ctx context.Context, query dto.LessonPlanQuery) (*LessonPlanPage, error) {
	ctx, seq := f.beginSearch(ctx)
	defer f.endSearch(seq)

	page, err := f.client.ListLessonPlans(ctx, query)
	if f.superseded(seq) {
		return nil, ErrSuperseded
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Invalidate drops every remembered result so the next read goes to the network.
func (f *Fetcher) Invalidate() {
	f.mu.Lock()
	f.recent = make(map[string]fetchResult)
	f.mu.Unlock()
}

func (f *Fetcher) fetch(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if value, ok := f.remembered(key); ok {
		return value, nil
	}

	value, err, _ := f.group.Do(key, func() (interface{}, error) {
		// a flight may have finished between the check above and joining the group
		if value, ok := f.remembered(key); ok {
			return value, nil
		}

		result, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.recent[key] = fetchResult{at: f.now(), value: result}
		f.mu.Unlock()
		return result, nil
	})
	return value, err
}

func (f *Fetcher) remembered(key string) (interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.recent[key]
	if !ok || f.now().Sub(last.at) >= f.minInterval {
		return nil, false
	}
	return last.value, true
}

func (f *Fetcher) beginSearch(parent context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancel(parent)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchCancel != nil {
		f.searchCancel()
	}
	f.searchSeq++
	f.searchCancel = cancel
	return ctx, f.searchSeq
}

func (f *Fetcher) endSearch(seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchSeq == seq && f.searchCancel != nil {
		f.searchCancel()
		f.searchCancel = nil
	}
}

func (f *Fetcher) superseded(seq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchSeq != seq
}
