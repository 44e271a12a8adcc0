package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/models"
	"ms-reservations/internal/reservation"

	"golang.org/x/sync/errgroup"
)

// Transitioner applies one lifecycle change. *reservation.Service satisfies it.
type Transitioner interface {
	TransitionTo(ctx context.Context, id string, to models.ReservationStatus, opts reservation.TransitionOptions) (*models.Reservation, bool, error)
}

// Resolver maps reservation ids to their event.
type Resolver interface {
	EventIDsOf(ctx context.Context, ids []string) (map[string]string, error)
}

type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type Result struct {
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Failures     []Failure `json:"failures"`
}

type Request struct {
	IDs    []string                 `json:"ids"`
	Status models.ReservationStatus `json:"status"`
	Reason string                   `json:"reason,omitempty"`
	Actor  string                   `json:"-"`
}

type Coordinator struct {
	svc         Transitioner
	resolver    Resolver
	logger      *logger.Logger
	parallelism int
}

func NewCoordinator(svc Transitioner, resolver Resolver, log *logger.Logger, parallelism int) *Coordinator {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Coordinator{svc: svc, resolver: resolver, logger: log, parallelism: parallelism}
}

// Apply moves every id to req.Status. Items fail independently; an id already in the
// target status counts as a success. Events are processed in parallel, the ids of one
// event one after another.
func (c *Coordinator) Apply(ctx context.Context, req Request) (*Result, error) {
	if _, err := models.ParseReservationStatus(string(req.Status)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}
	ids := dedupe(req.IDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("no reservation ids given: %w", domain.ErrValidation)
	}

	owners, err := c.resolver.EventIDsOf(ctx, ids)
	if err != nil {
		return nil, err
	}

	res := &Result{Failures: []Failure{}}
	var mu sync.Mutex
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			res.SuccessCount++
			return
		}
		res.FailureCount++
		res.Failures = append(res.Failures, Failure{ID: id, Reason: reason(err)})
	}

	groups := map[string][]string{}
	var order []string
	for _, id := range ids {
		eventID, ok := owners[id]
		if !ok {
			record(id, fmt.Errorf("reservation %s: %w", id, domain.ErrNotFound))
			continue
		}
		if _, seen := groups[eventID]; !seen {
			order = append(order, eventID)
		}
		groups[eventID] = append(groups[eventID], id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	opts := reservation.TransitionOptions{Reason: req.Reason, Actor: req.Actor}
	for _, eventID := range order {
		batch := groups[eventID]
		g.Go(func() error {
			for _, id := range batch {
				if err := gctx.Err(); err != nil {
					record(id, err)
					continue
				}
				_, _, err := c.svc.TransitionTo(gctx, id, req.Status, opts)
				record(id, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].ID < res.Failures[j].ID })
	c.logger.Info("BULK", fmt.Sprintf("Bulk %s: %d ok, %d failed across %d events", req.Status, res.SuccessCount, res.FailureCount, len(order)))
	return res, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid transition: " + err.Error()
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return "insufficient capacity: " + err.Error()
	}
	return err.Error()
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
