// Package alert raises alerts from sensor readings.
//
// An Evaluator holds a fixed table of Rules. Each rule watches one sensor
// and triggers when the value crosses a threshold (Below, Above) or when a
// Predicate holds. Alerts are raised on the rising edge only, at most once
// per Cooldown, and cleared silently once the condition stops holding.
//
// CheckStaleness covers the opposite failure: a watched sensor that stops
// reporting raises a WARNING until it reports again.
//
// Raised alerts are delivered synchronously to subscribers:
//
//	eval, err := alert.NewEvaluator(alert.Config{Rules: alert.DefaultRules()})
//	eval.Subscribe(func(a alert.Alert) { ... })
//	out := eval.Evaluate(aggregator.GetAll())
//
// A panicking handler or predicate is logged and does not affect the others.
package alert
