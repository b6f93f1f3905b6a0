package domain

import "github.com/shopspring/decimal"

// Unlimited marks a limit that is never enforced.
const Unlimited = -1

const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
)

type Limits struct {
	MaxProducts int `json:"maxProducts"`
	MaxOrders   int `json:"maxOrders"`
}

// Allows reports whether one more item fits under limit given current usage.
func Allows(limit, current int) bool {
	return limit < 0 || current < limit
}

type Plan struct {
	Key           string          `json:"key" yaml:"key"`
	Name          string          `json:"name" yaml:"name"`
	Price         decimal.Decimal `json:"price" yaml:"price"`
	StripePriceID string          `json:"-" yaml:"stripePriceId"`
	Limits        Limits          `json:"features" yaml:"limits"`
}

// Plans is the plan table keyed by plan key.
type Plans map[string]Plan

// Get returns the plan for key, falling back to the free plan.
func (p Plans) Get(key string) Plan {
	if plan, ok := p[key]; ok {
		return plan
	}
	return p[PlanFree]
}

// Paid reports whether key names a plan that can be bought.
func (p Plans) Paid(key string) bool {
	return key == PlanBasic || key == PlanPro
}

// DefaultPlans returns the built-in plan table with the given Stripe price ids.
func DefaultPlans(basicPriceID, proPriceID string) Plans {
	return Plans{
		PlanFree: {
			Key: PlanFree, Name: "Free", Price: decimal.Zero,
			Limits: Limits{MaxProducts: 10, MaxOrders: 100},
		},
		PlanBasic: {
			Key: PlanBasic, Name: "Basic", Price: decimal.NewFromInt(99), StripePriceID: basicPriceID,
			Limits: Limits{MaxProducts: 100, MaxOrders: 1000},
		},
		PlanPro: {
			Key: PlanPro, Name: "Pro", Price: decimal.NewFromInt(299), StripePriceID: proPriceID,
			Limits: Limits{MaxProducts: Unlimited, MaxOrders: Unlimited},
		},
	}
}
