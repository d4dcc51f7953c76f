package strategy

import (
	"main/internal/schema"
)

// Weighted pairs a member strategy with its aggregation weight.
type Weighted struct {
	Strategy Strategy
	Weight   float64
}

// Combined merges member signals by weighted confidence into a single
// signal. It never talks to risk or execution itself; disagreeing members
// cancel each other out and only a sufficiently one-sided consensus fires.
type Combined struct {
	id      uint32
	name    string
	members []Weighted
	// MinScore is the weighted net confidence needed to emit.
	minScore float64
}

func NewCombined(id uint32, name string, minScore float64, members ...Weighted) *Combined {
	return &Combined{id: id, name: name, members: members, minScore: minScore}
}

func (s *Combined) Name() string { return s.name }

func (s *Combined) Evaluate(v View) (schema.Signal, bool) {
	var longScore, shortScore, totalWeight float64
	var bestLong, bestShort schema.Signal
	for _, m := range s.members {
		totalWeight += m.Weight
		sig, ok := m.Strategy.Evaluate(v)
		if !ok {
			continue
		}
		switch sig.Direction {
		case schema.DirectionLong:
			longScore += m.Weight * sig.Confidence
			if sig.Confidence > bestLong.Confidence {
				bestLong = sig
			}
		case schema.DirectionShort:
			shortScore += m.Weight * sig.Confidence
			if sig.Confidence > bestShort.Confidence {
				bestShort = sig
			}
		}
	}
	if totalWeight <= 0 {
		return schema.Signal{}, false
	}

	net := (longScore - shortScore) / totalWeight
	var base schema.Signal
	switch {
	case net >= s.minScore:
		base = bestLong
	case -net >= s.minScore:
		base = bestShort
		net = -net
	default:
		return schema.Signal{}, false
	}

	merged := base
	merged.StrategyID = s.id
	merged.Strategy = s.name
	merged.Confidence = clamp01(net)
	merged.TsNano = v.TsNano
	return merged, true
}
