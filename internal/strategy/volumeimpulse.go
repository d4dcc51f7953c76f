package strategy

import (
	"main/internal/schema"
)

// VolumeImpulseConfig tunes the volume-spike strategy.
type VolumeImpulseConfig struct {
	// VolumeRatio is the spike factor over the rolling baseline.
	VolumeRatio float64
	// MinPriceChangePct is the mid-price move that must accompany the
	// spike to fix a direction.
	MinPriceChangePct float64
	// BaselinePeriods is how many prior samples form the baseline.
	BaselinePeriods int
	// SampleInterval spaces volume samples, in nanoseconds.
	SampleInterval int64
	// Qty is the suggested order size per signal.
	Qty schema.Quantity

	Stops Stops
}

func DefaultVolumeImpulseConfig(qty schema.Quantity) VolumeImpulseConfig {
	return VolumeImpulseConfig{
		VolumeRatio:       2.5,
		MinPriceChangePct: 0.002,
		BaselinePeriods:   5,
		SampleInterval:    1e9,
		Qty:               qty,
		Stops:             Stops{TakeProfitPct: 0.003, StopLossPct: 0.002},
	}
}

// VolumeImpulse samples traded volume off the tape at a fixed interval and
// fires when the latest sample spikes above the rolling baseline with a
// confirming price move.
type VolumeImpulse struct {
	id  uint32
	cfg VolumeImpulseConfig

	samples    []viSample
	lastSample int64
}

type viSample struct {
	mid    float64
	volume float64
}

func NewVolumeImpulse(id uint32, cfg VolumeImpulseConfig) *VolumeImpulse {
	return &VolumeImpulse{id: id, cfg: cfg}
}

func (s *VolumeImpulse) Name() string { return "volume_impulse" }

func (s *VolumeImpulse) Evaluate(v View) (schema.Signal, bool) {
	snap := v.Book
	if snap.Stale {
		return schema.Signal{}, false
	}
	mid, ok := midFloat(snap, v.Scale)
	if !ok || mid <= 0 {
		return schema.Signal{}, false
	}

	if v.TsNano-s.lastSample < s.cfg.SampleInterval {
		return schema.Signal{}, false
	}
	var vol float64
	for _, tr := range v.Trades {
		if tr.TsNano > s.lastSample {
			vol += float64(tr.Qty)
		}
	}
	s.lastSample = v.TsNano
	s.samples = append(s.samples, viSample{mid: mid, volume: vol})
	if max := s.cfg.BaselinePeriods + 1; len(s.samples) > max {
		s.samples = s.samples[len(s.samples)-max:]
	}
	if len(s.samples) < s.cfg.BaselinePeriods+1 {
		return schema.Signal{}, false
	}

	var baseline float64
	for _, sm := range s.samples[:len(s.samples)-1] {
		baseline += sm.volume
	}
	baseline /= float64(len(s.samples) - 1)
	current := s.samples[len(s.samples)-1]
	if baseline <= 0 || current.volume < s.cfg.VolumeRatio*baseline {
		return schema.Signal{}, false
	}

	first := s.samples[0]
	change := (current.mid - first.mid) / first.mid
	if change > -s.cfg.MinPriceChangePct && change < s.cfg.MinPriceChangePct {
		return schema.Signal{}, false
	}

	dir := schema.DirectionLong
	if change < 0 {
		dir = schema.DirectionShort
	}
	ratio := current.volume / (s.cfg.VolumeRatio * baseline)

	entry, _ := snap.MidPrice()
	sl, tp := s.cfg.Stops.Apply(entry, dir)
	return schema.Signal{
		StrategyID: s.id,
		Strategy:   s.Name(),
		SymbolID:   v.SymbolID,
		VenueID:    v.VenueID,
		Direction:  dir,
		Confidence: clamp01(0.5 * ratio),
		Price:      entry,
		Qty:        s.cfg.Qty,
		StopLoss:   sl,
		TakeProfit: tp,
		TsNano:     v.TsNano,
	}, true
}
