package engine

import "sort"

type LevelCurve struct {
	Base     float64 `json:"base" yaml:"base"`
	Exponent float64 `json:"exponent" yaml:"exponent"`
}

type TierThreshold struct {
	Level int    `json:"level" yaml:"level"`
	Name  string `json:"name" yaml:"name"`
}

type CurvePoint struct {
	Fraction float64 `json:"fraction" yaml:"fraction"`
	Value    float64 `json:"value" yaml:"value"`
}

type Span string

const (
	SpanDaily     Span = "daily"
	SpanWeekly    Span = "weekly"
	SpanMonthly   Span = "monthly"
	SpanQuarterly Span = "quarterly"
	SpanYearly    Span = "yearly"
	SpanFiveYear  Span = "5-year"
)

// Config is fixed at engine construction. Copies handed out by
// DefaultConfig can be adjusted before Open; the engine never mutates it.
type Config struct {
	BaseTaskXP           int
	InitiationMultiplier float64
	CompletionMultiplier float64
	CompletionBonus      int
	ExecutionXP          int

	BubblePercentage    float64
	ProjectTransferRate float64

	AreaCurve   LevelCurve
	SeasonCurve LevelCurve
	Tiers       []TierThreshold

	ObjectiveBaseXP      int
	HorizonMultipliers   map[Span]float64
	AgeDecayHalfLifeDays float64
	AgeDecayFloor        float64
	ObjectiveCurve       []CurvePoint

	IDLength   int
	IDAttempts int
}

func DefaultConfig() Config {
	return Config{
		BaseTaskXP:           10,
		InitiationMultiplier: 1.5,
		CompletionMultiplier: 5.0,
		CompletionBonus:      25,
		ExecutionXP:          20,
		BubblePercentage:     0.75,
		ProjectTransferRate:  0.25,
		AreaCurve:            LevelCurve{Base: 100, Exponent: 1.5},
		SeasonCurve:          LevelCurve{Base: 500, Exponent: 1.5},
		Tiers: []TierThreshold{
			{Level: 1, Name: "Bronze"},
			{Level: 5, Name: "Silver"},
			{Level: 10, Name: "Gold"},
			{Level: 15, Name: "Platinum"},
			{Level: 20, Name: "Diamond"},
		},
		ObjectiveBaseXP: 100,
		HorizonMultipliers: map[Span]float64{
			SpanDaily:     0.25,
			SpanWeekly:    1.0,
			SpanMonthly:   3.0,
			SpanQuarterly: 8.0,
			SpanYearly:    20.0,
			SpanFiveYear:  60.0,
		},
		AgeDecayHalfLifeDays: 90,
		AgeDecayFloor:        0.1,
		ObjectiveCurve: []CurvePoint{
			{Fraction: 0, Value: 0},
			{Fraction: 0.25, Value: 0.15},
			{Fraction: 0.5, Value: 0.35},
			{Fraction: 0.75, Value: 0.6},
			{Fraction: 1, Value: 1},
		},
		IDLength:   5,
		IDAttempts: 20,
	}
}

// normalized fills zero values from the defaults and sorts the tier and
// curve tables so lookups can assume order.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.BaseTaskXP <= 0 {
		c.BaseTaskXP = def.BaseTaskXP
	}
	if c.InitiationMultiplier <= 0 {
		c.InitiationMultiplier = def.InitiationMultiplier
	}
	if c.CompletionMultiplier <= 0 {
		c.CompletionMultiplier = def.CompletionMultiplier
	}
	if c.CompletionBonus < 0 {
		c.CompletionBonus = def.CompletionBonus
	}
	if c.ExecutionXP <= 0 {
		c.ExecutionXP = def.ExecutionXP
	}
	if c.BubblePercentage <= 0 || c.BubblePercentage > 1 {
		c.BubblePercentage = def.BubblePercentage
	}
	if c.ProjectTransferRate < 0 || c.ProjectTransferRate > 1 {
		c.ProjectTransferRate = def.ProjectTransferRate
	}
	if c.AreaCurve.Base <= 0 || c.AreaCurve.Exponent <= 0 {
		c.AreaCurve = def.AreaCurve
	}
	if c.SeasonCurve.Base <= 0 || c.SeasonCurve.Exponent <= 0 {
		c.SeasonCurve = def.SeasonCurve
	}
	if len(c.Tiers) == 0 {
		c.Tiers = def.Tiers
	}
	tiers := append([]TierThreshold(nil), c.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })
	c.Tiers = tiers
	if c.ObjectiveBaseXP <= 0 {
		c.ObjectiveBaseXP = def.ObjectiveBaseXP
	}
	if len(c.HorizonMultipliers) == 0 {
		c.HorizonMultipliers = def.HorizonMultipliers
	}
	if c.AgeDecayHalfLifeDays <= 0 {
		c.AgeDecayHalfLifeDays = def.AgeDecayHalfLifeDays
	}
	if c.AgeDecayFloor <= 0 || c.AgeDecayFloor > 1 {
		c.AgeDecayFloor = def.AgeDecayFloor
	}
	if len(c.ObjectiveCurve) == 0 {
		c.ObjectiveCurve = def.ObjectiveCurve
	}
	points := append([]CurvePoint(nil), c.ObjectiveCurve...)
	sort.Slice(points, func(i, j int) bool { return points[i].Fraction < points[j].Fraction })
	c.ObjectiveCurve = points
	if c.IDLength < 4 || c.IDLength > 12 {
		c.IDLength = def.IDLength
	}
	if c.IDAttempts <= 0 {
		c.IDAttempts = def.IDAttempts
	}
	return c
}

// TierForLevel returns the name of the highest tier whose threshold is at
// or below level, or "" when level sits under every threshold.
func (c Config) TierForLevel(level int) string {
	name := ""
	for _, tier := range c.Tiers {
		if level >= tier.Level {
			name = tier.Name
		}
	}
	return name
}
