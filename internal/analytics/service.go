package analytics

import (
	"context"
	"time"

	"ms-reservations/internal/capacity"
	"ms-reservations/internal/models"
	resdb "ms-reservations/internal/reservation/db"
	wdb "ms-reservations/internal/waitlist/db"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// expiringWindow is how close to its deadline an option counts as expiring soon.
const expiringWindow = 48 * time.Hour

// Service handles analytics operations
type Service struct {
	db       *DB
	events   *resdb.DB
	ledger   *capacity.Ledger
	waitlist *wdb.DB
	now      func() time.Time
}

// NewService creates a new analytics service
func NewService(db *bun.DB) *Service {
	return &Service{
		db:       NewDB(db),
		events:   resdb.New(db),
		ledger:   capacity.NewLedger(db),
		waitlist: wdb.New(db),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type StatusBreakdown struct {
	Count   int `json:"count"`
	Persons int `json:"persons"`
}

type OptionReport struct {
	Active       int `json:"active"`
	ExpiringSoon int `json:"expiring_soon"`
	PersonsHeld  int `json:"persons_held"`
	Overdue      int `json:"overdue"`
}

// Occupancy is the per-event summary shown to staff.
type Occupancy struct {
	EventID       string                                       `json:"event_id"`
	EventName     string                                       `json:"event_name"`
	EventDate     time.Time                                    `json:"event_date"`
	Capacity      int                                          `json:"capacity"`
	Remaining     int                                          `json:"remaining"`
	HeldPersons   int                                          `json:"held_persons"`
	OccupancyRate float64                                      `json:"occupancy_rate"`
	ByStatus      map[models.ReservationStatus]StatusBreakdown `json:"by_status"`
	BookedRevenue decimal.Decimal                              `json:"booked_revenue"`
	PaidRevenue   decimal.Decimal                              `json:"paid_revenue"`
	Options       OptionReport                                 `json:"options"`
	Waitlist      *wdb.Counts                                  `json:"waitlist"`
	GeneratedAt   time.Time                                    `json:"generated_at"`
}

// GetOccupancy aggregates an event's reservations, ledger and waitlist.
func (s *Service) GetOccupancy(ctx context.Context, eventID string) (*Occupancy, error) {
	ev, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledger.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.reservationRows(ctx, eventID)
	if err != nil {
		return nil, err
	}
	wl, err := s.waitlist.CountByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	occ := &Occupancy{
		EventID:       ev.ID,
		EventName:     ev.Name,
		EventDate:     ev.Date,
		Capacity:      ledger.Capacity,
		Remaining:     ledger.Remaining,
		ByStatus:      map[models.ReservationStatus]StatusBreakdown{},
		BookedRevenue: decimal.Zero,
		PaidRevenue:   decimal.Zero,
		Waitlist:      wl,
		GeneratedAt:   now,
	}
	for _, r := range rows {
		b := occ.ByStatus[r.Status]
		b.Count++
		b.Persons += r.NumberOfPersons
		occ.ByStatus[r.Status] = b

		if r.Status.HoldsCapacity() {
			occ.HeldPersons += r.NumberOfPersons
			occ.BookedRevenue = occ.BookedRevenue.Add(r.TotalPrice)
		}
		if r.PaymentStatus == models.PaymentPaid {
			occ.PaidRevenue = occ.PaidRevenue.Add(r.TotalPrice)
		}
		if r.Status == models.ReservationOption {
			occ.Options.Active++
			occ.Options.PersonsHeld += r.NumberOfPersons
			switch {
			case !r.OptionExpiresAt.After(now):
				occ.Options.Overdue++
			case r.OptionExpiresAt.Sub(now) <= expiringWindow:
				occ.Options.ExpiringSoon++
			}
		}
	}
	if occ.Capacity > 0 {
		rate := decimal.NewFromInt(int64(occ.HeldPersons)).Div(decimal.NewFromInt(int64(occ.Capacity))).Round(4)
		occ.OccupancyRate, _ = rate.Float64()
	}
	return occ, nil
}
