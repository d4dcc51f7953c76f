package strategy

import (
	"main/internal/schema"
)

// PriceActionConfig tunes the impulse-retracement strategy.
type PriceActionConfig struct {
	// MinImpulsePct is the smallest mid-price move over the window that
	// counts as an impulse.
	MinImpulsePct float64
	// VolumeRatio requires the latest traded volume sample to exceed the
	// window average by this factor before an impulse is trusted.
	VolumeRatio float64
	// RetracementMin/Max bound the pullback fraction of the impulse move
	// at which the strategy enters in the impulse direction.
	RetracementMin float64
	RetracementMax float64
	// Window bounds the price/volume history, in nanoseconds.
	Window int64
	// Qty is the suggested order size per signal.
	Qty schema.Quantity

	Stops Stops
}

func DefaultPriceActionConfig(qty schema.Quantity) PriceActionConfig {
	return PriceActionConfig{
		MinImpulsePct:  0.003,
		VolumeRatio:    2.0,
		RetracementMin: 0.3,
		RetracementMax: 0.5,
		Window:         10 * 1e9,
		Qty:            qty,
		Stops:          Stops{TakeProfitPct: 0.003, StopLossPct: 0.0015},
	}
}

// PriceAction detects a sharp volume-confirmed price impulse over a short
// rolling window and enters in the impulse direction once price has
// retraced part of the move.
type PriceAction struct {
	id  uint32
	cfg PriceActionConfig

	samples []paSample

	// latched impulse being watched for a retracement entry
	impulseDir   schema.Direction
	impulseStart float64
	impulsePeak  float64
	impulseTs    int64
}

type paSample struct {
	tsNano int64
	mid    float64
	volume float64
}

func NewPriceAction(id uint32, cfg PriceActionConfig) *PriceAction {
	return &PriceAction{id: id, cfg: cfg}
}

func (s *PriceAction) Name() string { return "price_action" }

func (s *PriceAction) Evaluate(v View) (schema.Signal, bool) {
	snap := v.Book
	if snap.Stale {
		return schema.Signal{}, false
	}
	mid, ok := midFloat(snap, v.Scale)
	if !ok || mid <= 0 {
		return schema.Signal{}, false
	}

	s.record(v, mid)

	if s.impulseDir == schema.DirectionFlat {
		s.detectImpulse()
	} else if v.TsNano-s.impulseTs > s.cfg.Window {
		s.impulseDir = schema.DirectionFlat
	}
	if s.impulseDir == schema.DirectionFlat {
		return schema.Signal{}, false
	}

	retr := s.retracement(mid)
	if retr < s.cfg.RetracementMin || retr > s.cfg.RetracementMax {
		return schema.Signal{}, false
	}

	dir := s.impulseDir
	s.impulseDir = schema.DirectionFlat // one entry per impulse

	entry, _ := snap.MidPrice()
	sl, tp := s.cfg.Stops.Apply(entry, dir)
	return schema.Signal{
		StrategyID: s.id,
		Strategy:   s.Name(),
		SymbolID:   v.SymbolID,
		VenueID:    v.VenueID,
		Direction:  dir,
		Confidence: clamp01(retr / s.cfg.RetracementMax),
		Price:      entry,
		Qty:        s.cfg.Qty,
		StopLoss:   sl,
		TakeProfit: tp,
		TsNano:     v.TsNano,
	}, true
}

func (s *PriceAction) record(v View, mid float64) {
	var vol float64
	since := v.TsNano - s.cfg.Window
	if n := len(s.samples); n > 0 {
		since = s.samples[n-1].tsNano
	}
	for _, tr := range v.Trades {
		if tr.TsNano > since {
			vol += float64(tr.Qty)
		}
	}
	s.samples = append(s.samples, paSample{tsNano: v.TsNano, mid: mid, volume: vol})

	cutoff := v.TsNano - s.cfg.Window
	trimmed := s.samples[:0]
	for _, sm := range s.samples {
		if sm.tsNano >= cutoff {
			trimmed = append(trimmed, sm)
		}
	}
	s.samples = trimmed
}

func (s *PriceAction) detectImpulse() {
	if len(s.samples) < 2 {
		return
	}
	first := s.samples[0]
	last := s.samples[len(s.samples)-1]
	change := (last.mid - first.mid) / first.mid
	if change > -s.cfg.MinImpulsePct && change < s.cfg.MinImpulsePct {
		return
	}

	var avg float64
	for _, sm := range s.samples[:len(s.samples)-1] {
		avg += sm.volume
	}
	avg /= float64(len(s.samples) - 1)
	if avg <= 0 || last.volume < s.cfg.VolumeRatio*avg {
		return
	}

	if change > 0 {
		s.impulseDir = schema.DirectionLong
	} else {
		s.impulseDir = schema.DirectionShort
	}
	s.impulseStart = first.mid
	s.impulsePeak = last.mid
	s.impulseTs = last.tsNano
}

// retracement measures how far price has pulled back from the impulse peak
// as a fraction of the impulse move.
func (s *PriceAction) retracement(mid float64) float64 {
	move := s.impulsePeak - s.impulseStart
	if move == 0 {
		return 0
	}
	retr := (s.impulsePeak - mid) / move
	if retr < 0 {
		return 0
	}
	return retr
}
