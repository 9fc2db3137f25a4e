package tpclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/internal/workflow"
	appErrors "github.com/noah-isme/tp-workflow-api/pkg/errors"
)

// Board is a local view of observation schedules whose status changes are
// applied optimistically and rolled back when the server refuses them.
type Board struct {
	client *Client

	mu         sync.Mutex
	items      map[string]dto.ObservationView
	order      []string
	pending    map[string]bool
	pagination models.Pagination
}

// NewBoard wraps client.
func NewBoard(client *Client) *Board {
	return &Board{
		client:  client,
		items:   make(map[string]dto.ObservationView),
		pending: make(map[string]bool),
	}
}

// Load replaces the board with one page of schedules.
func (b *Board) Load(ctx context.Context, query dto.ObservationQuery) error {
	page, err := b.client.ListObservations(ctx, query)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = make(map[string]dto.ObservationView, len(page.Items))
	b.order = b.order[:0]
	for _, item := range page.Items {
		b.items[item.ID] = item
		b.order = append(b.order, item.ID)
	}
	b.pagination = page.Pagination
	return nil
}

// Items returns the schedules in listing order.
func (b *Board) Items() []dto.ObservationView {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]dto.ObservationView, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	return out
}

// Get returns one schedule from the board.
func (b *Board) Get(id string) (dto.ObservationView, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[id]
	return item, ok
}

// Pagination returns the pagination of the last load.
func (b *Board) Pagination() models.Pagination {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pagination
}

// Advance moves a schedule to its next status. The board shows the new status
// immediately and reverts to the previous one if the server refuses.
func (b *Board) Advance(ctx context.Context, id string) (*dto.ObservationView, error) {
	b.mu.Lock()
	item, ok := b.items[id]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: observation %s is not on the board", ErrNotFound, id)
	}
	if b.pending[id] {
		b.mu.Unlock()
		return nil, localError(appErrors.Clone(appErrors.ErrConflict, "a status change for this observation is already in progress"))
	}
	next, err := workflow.NextObservationStatus(item.Status)
	if err != nil {
		b.mu.Unlock()
		return nil, localError(err)
	}
	snapshot := item
	item.Status = next
	b.items[id] = item
	b.pending[id] = true
	b.mu.Unlock()

	view, err := b.client.AdvanceObservation(ctx, id, next)

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, id)
	_, listed := b.items[id]
	if err != nil {
		if listed {
			b.items[id] = snapshot
		}
		return nil, err
	}
	if listed {
		b.items[id] = *view
	}
	return view, nil
}
