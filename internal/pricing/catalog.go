package pricing

import (
	"context"
	"fmt"
	"time"

	"ms-reservations/internal/domain"
	"ms-reservations/internal/models"

	"github.com/shopspring/decimal"
)

const (
	AddOnPreDrink   = "preDrink"
	AddOnAfterParty = "afterParty"
)

// Legacy tier names map onto the current catalog keys.
var arrangementAliases = map[string]string{
	"Standard": "BWF",
	"Premium":  "BWFM",
}

// Source is the configuration store behind the catalog.
type Source interface {
	EventTypePrices(ctx context.Context, eventType string) (map[string]decimal.Decimal, error)
	MerchandiseItems(ctx context.Context) ([]models.MerchandiseItem, error)
	PromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	RedeemPromo(ctx context.Context, code string) error
}

type AddOnRule struct {
	PricePerPerson decimal.Decimal
	MinPersons     int
}

type AddOnRequest struct {
	Key      string `json:"key"`
	Enabled  bool   `json:"enabled"`
	Quantity int    `json:"quantity"`
}

type MerchandiseRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Request is a booking as the customer describes it. Catalog.Quote resolves its prices.
type Request struct {
	Arrangement     string               `json:"arrangement"`
	NumberOfPersons int                  `json:"number_of_persons"`
	AddOns          []AddOnRequest       `json:"add_ons,omitempty"`
	Merchandise     []MerchandiseRequest `json:"merchandise,omitempty"`
	PromoCode       string               `json:"promo_code,omitempty"`
}

type Catalog struct {
	source Source
	addOns map[string]AddOnRule
	now    func() time.Time
}

func NewCatalog(source Source, addOns map[string]AddOnRule) *Catalog {
	return &Catalog{source: source, addOns: addOns, now: time.Now}
}

// ArrangementPrice resolves the per-person price: the event's own table first, then the
// event type's, then the same lookups under the legacy alias.
func (c *Catalog) ArrangementPrice(ctx context.Context, event *models.Event, arrangement string) (decimal.Decimal, error) {
	typePrices, err := c.source.EventTypePrices(ctx, event.EventType)
	if err != nil {
		return decimal.Zero, err
	}

	candidates := []string{arrangement}
	if alias, ok := arrangementAliases[arrangement]; ok {
		candidates = append(candidates, alias)
	}
	for _, key := range candidates {
		if p, ok := event.CustomPricing[key]; ok {
			return p, nil
		}
		if p, ok := typePrices[key]; ok {
			return p, nil
		}
	}
	return decimal.Zero, fmt.Errorf("no price for arrangement %q on event type %q: %w", arrangement, event.EventType, domain.ErrValidation)
}

func (c *Catalog) AddOnRule(key string) (AddOnRule, bool) {
	r, ok := c.addOns[key]
	return r, ok
}

// Quote resolves prices for the request and computes the total.
func (c *Catalog) Quote(ctx context.Context, event *models.Event, req Request) (*models.PricingSnapshot, error) {
	if !event.AllowsArrangement(req.Arrangement) {
		return nil, fmt.Errorf("arrangement %q not offered for event %s: %w", req.Arrangement, event.ID, domain.ErrValidation)
	}
	price, err := c.ArrangementPrice(ctx, event, req.Arrangement)
	if err != nil {
		return nil, err
	}

	in := Input{
		Arrangement:     req.Arrangement,
		PricePerPerson:  price,
		NumberOfPersons: req.NumberOfPersons,
		At:              c.now(),
	}

	for _, a := range req.AddOns {
		rule, ok := c.addOns[a.Key]
		if !ok {
			return nil, fmt.Errorf("unknown add-on %q: %w", a.Key, domain.ErrValidation)
		}
		in.AddOns = append(in.AddOns, models.AddOnSelection{
			Key:            a.Key,
			Enabled:        a.Enabled,
			Quantity:       a.Quantity,
			MinPersons:     rule.MinPersons,
			PricePerPerson: rule.PricePerPerson,
		})
	}

	if len(req.Merchandise) > 0 {
		items, err := c.source.MerchandiseItems(ctx)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]models.MerchandiseItem, len(items))
		for _, it := range items {
			byID[it.ID] = it
		}
		for _, m := range req.Merchandise {
			it, ok := byID[m.ItemID]
			if !ok || !it.Active {
				return nil, fmt.Errorf("merchandise item %q unavailable: %w", m.ItemID, domain.ErrValidation)
			}
			in.Merchandise = append(in.Merchandise, models.MerchandiseLine{
				ItemID:   it.ID,
				Name:     it.Name,
				Price:    it.Price,
				Quantity: m.Quantity,
			})
		}
	}

	if req.PromoCode != "" {
		promo, err := c.source.PromoCode(ctx, req.PromoCode)
		if err != nil {
			return nil, err
		}
		in.Promo = promo
	}

	return ComputeTotal(in)
}

// RedeemPromo counts one use of a promo code.
func (c *Catalog) RedeemPromo(ctx context.Context, code string) error {
	return c.source.RedeemPromo(ctx, code)
}
