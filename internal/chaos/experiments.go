// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/catalog"
)

var errInjected = errors.New("chaos: injected write failure")

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (e *Engine) RegisterExperiments() {
	e.RegisterExperiment(ConcurrentValidationExperiment(50))
	e.RegisterExperiment(ArchiveOutageExperiment(5))
	e.RegisterExperiment(StoreLatencyExperiment(250*time.Millisecond, 2*time.Second))
	e.RegisterExperiment(StockDriftExperiment())
}

func stockMetric(lab *Lab) Metric {
	return Metric{
		Name:      "stock_violations",
		Query:     lab.StockViolations,
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

func zero(v float64) bool { return v == 0 }

// ConcurrentValidationExperiment validates one reservation from many
// goroutines at once.
func ConcurrentValidationExperiment(concurrency int) ChaosExperiment {
	lab := NewLab(1)
	student := lab.Students[0]
	var extra atomic.Int64
	var stockBefore int

	return ChaosExperiment{
		Name:       "concurrent-reservation-validation",
		Hypothesis: "A reservation validated by several admins at once becomes one loan and takes one copy",
		SteadyState: []Metric{
			stockMetric(lab),
			{
				Name: "extra_validations",
				Query: func(ctx context.Context) (float64, error) {
					return float64(extra.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "stock_drift",
				Query: func(ctx context.Context) (float64, error) {
					if stockBefore == 0 {
						return 0, nil
					}
					now, err := lab.Stock(ctx)
					return float64(stockBefore - 1 - now), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrency",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					n, err := lab.Stock(ctx)
					if err != nil {
						return err
					}
					stockBefore = n

					var wg sync.WaitGroup
					var ok atomic.Int64
					for i := 0; i < concurrency; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							if _, err := lab.Circulation.ValidateReservation(ctx, student, 1); err == nil {
								ok.Add(1)
							}
						}()
					}
					wg.Wait()
					extra.Store(ok.Load() - 1)
					return nil
				},
			},
		},
		Validation: []Assertion{
			{Metric: "extra_validations", Condition: zero, Message: "Exactly one validation should succeed"},
			{Metric: "stock_drift", Condition: zero, Message: "Stock should drop by exactly one copy"},
			{Metric: "stock_violations", Condition: zero, Message: "Stock should stay within [0, initialExemplaire]"},
		},
		Duration: 2 * time.Second,
	}
}

// ArchiveOutageExperiment returns loans while archive writes fail.
func ArchiveOutageExperiment(students int) ChaosExperiment {
	lab := NewLab(students)
	returnAll := func(ctx context.Context) error {
		var errs []error
		for _, s := range lab.Students {
			if _, err := lab.Circulation.ReturnDocument(ctx, s, 2); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	return ChaosExperiment{
		Name:       "archive-write-outage",
		Hypothesis: "Returns fail closed while the archive rejects writes and succeed on retry",
		SteadyState: []Metric{
			stockMetric(lab),
			{
				Name:      "unarchived_returns",
				Query:     lab.UnarchivedReturns,
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "open_loans",
				Query: func(ctx context.Context) (float64, error) {
					n, err := lab.Borrowed(ctx)
					return float64(n), err
				},
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "failure",
				Target: archive.Collection,
				Execute: func(ctx context.Context) error {
					lab.Store.FailWrites(archive.Collection, errInjected)
					if err := returnAll(ctx); !errors.Is(err, errInjected) {
						return errors.New("returns succeeded during archive outage")
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "recovery",
				Target: archive.Collection,
				Execute: func(ctx context.Context) error {
					lab.Store.FailWrites(archive.Collection, nil)
					return returnAll(ctx)
				},
			},
		},
		Validation: []Assertion{
			{Metric: "unarchived_returns", Condition: zero, Message: "Every closed loan should be archived"},
			{Metric: "open_loans", Condition: zero, Message: "Retried returns should close every loan"},
			{Metric: "stock_violations", Condition: zero, Message: "Stock should stay within [0, initialExemplaire]"},
		},
		Duration: 2 * time.Second,
	}
}

// StoreLatencyExperiment delays every store round trip of the engine and
// checks a validate/return cycle still completes within budget.
func StoreLatencyExperiment(latency, budget time.Duration) ChaosExperiment {
	lab := NewLab(1)
	student := lab.Students[0]

	return ChaosExperiment{
		Name:       "store-latency",
		Hypothesis: "Slot transitions complete within budget when the store is slow",
		SteadyState: []Metric{
			stockMetric(lab),
			{
				Name: "transition_success_rate",
				Query: func(ctx context.Context) (float64, error) {
					if err := lab.ResetReservation(ctx, student); err != nil {
						return 0, err
					}
					ctx, cancel := context.WithTimeout(ctx, budget)
					defer cancel()
					if _, err := lab.Circulation.ValidateReservation(ctx, student, 1); err != nil {
						return 0, nil
					}
					if _, err := lab.Circulation.ReturnDocument(ctx, student, 1); err != nil {
						return 0, nil
					}
					return 100, nil
				},
				Threshold: Threshold{Operator: ">=", Value: 100},
			},
		},
		Method: []Action{
			{Type: "latency", Target: "docstore", Execute: func(context.Context) error {
				lab.SetLatency(latency)
				return nil
			}},
		},
		Rollback: []Action{
			{Type: "latency", Target: "docstore", Execute: func(context.Context) error {
				lab.SetLatency(0)
				return nil
			}},
		},
		Validation: []Assertion{
			{Metric: "transition_success_rate", Condition: func(v float64) bool { return v >= 100 }, Message: "Transitions should succeed once latency is removed"},
			{Metric: "stock_violations", Condition: zero, Message: "Stock should stay within [0, initialExemplaire]"},
		},
		Duration: 5 * time.Second,
	}
}

// StockDriftExperiment corrupts stock behind the engine's back and lets
// the reconciliation job repair it.
func StockDriftExperiment() ChaosExperiment {
	lab := NewLab(3)

	return ChaosExperiment{
		Name:        "stock-drift-repair",
		Hypothesis:  "Stock reconciliation brings drifted documents back into range",
		SteadyState: []Metric{stockMetric(lab)},
		Method: []Action{
			{Type: "corruption", Target: catalog.BooksCollection, Execute: func(ctx context.Context) error {
				return lab.Store.Set(ctx, catalog.BooksCollection, labDocID, map[string]any{"exemplaire": 99})
			}},
		},
		Rollback: []Action{
			{Type: "recovery", Target: catalog.BooksCollection, Execute: func(ctx context.Context) error {
				_, err := lab.Catalog.ReconcileStock(ctx)
				return err
			}},
		},
		Validation: []Assertion{
			{Metric: "stock_violations", Condition: zero, Message: "Reconciliation should repair every drifted document"},
		},
		Duration: time.Second,
	}
}
