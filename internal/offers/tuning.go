package offers

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ListRange is an inclusive range of roster sizes for a partial clause.
type ListRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Narrow and wide partial-clause list sizes.
var (
	NarrowList = ListRange{Min: 3, Max: 5}
	WideList   = ListRange{Min: 8, Max: 12}
)

// ClauseRule is the chance of one clause kind being granted inside a band.
type ClauseRule struct {
	Chance float64 `yaml:"chance"`
	// FullShare is the share of granted clauses that are full rather than partial.
	FullShare float64   `yaml:"full_share"`
	List      ListRange `yaml:"list"`
	// FromYear delays the clause to the given contract year.
	FromYear int `yaml:"from_year"`
}

// Band holds the clause rules for reputations at or above MinReputation
// and below the next band's MinReputation.
type Band struct {
	MinReputation int        `yaml:"min_reputation"`
	Primary       ClauseRule `yaml:"primary"`
	Secondary     ClauseRule `yaml:"secondary"`
}

// LoyaltyBonus grants a primary clause on the current organization's offer when the band did not.
type LoyaltyBonus struct {
	MinReputation int       `yaml:"min_reputation"`
	Chance        float64   `yaml:"chance"`
	List          ListRange `yaml:"list"`
}

// Tuning is the generation surface. Values are used as given; bands are never interpolated.
type Tuning struct {
	MinCompensation float64 `yaml:"min_compensation"`
	MaxCompensation float64 `yaml:"max_compensation"`
	LoyaltyPremium  float64 `yaml:"loyalty_premium"`
	// ConditionalMaxReputation is the highest reputation still eligible for the conditional tier.
	ConditionalMaxReputation int     `yaml:"conditional_max_reputation"`
	ConditionalChance        float64 `yaml:"conditional_chance"`

	EntryYears           int     `yaml:"entry_years"`
	EntryMinCompensation float64 `yaml:"entry_min_compensation"`
	EntryMaxCompensation float64 `yaml:"entry_max_compensation"`

	Bands        []Band       `yaml:"bands"`
	LoyaltyBonus LoyaltyBonus `yaml:"loyalty_bonus"`
}

// DefaultTuning returns the stock generation constants.
func DefaultTuning() Tuning {
	return Tuning{
		MinCompensation:          0.75,
		MaxCompensation:          12.50,
		LoyaltyPremium:           1.1,
		ConditionalMaxReputation: 30,
		ConditionalChance:        0.7,
		EntryYears:               2,
		EntryMinCompensation:     0.75,
		EntryMaxCompensation:     1.00,
		Bands: []Band{
			{MinReputation: 0},
			{MinReputation: 20, Primary: ClauseRule{Chance: 0.15, List: NarrowList}},
			{
				MinReputation: 40,
				Primary:       ClauseRule{Chance: 0.35, List: WideList},
				Secondary:     ClauseRule{Chance: 0.10, List: NarrowList, FromYear: 2},
			},
			{
				MinReputation: 60,
				Primary:       ClauseRule{Chance: 0.65, FullShare: 0.5, List: WideList},
				Secondary:     ClauseRule{Chance: 0.35, List: WideList},
			},
			{
				MinReputation: 80,
				Primary:       ClauseRule{Chance: 0.85, FullShare: 1},
				Secondary:     ClauseRule{Chance: 0.5, FullShare: 0.5, List: WideList},
			},
			{
				MinReputation: 95,
				Primary:       ClauseRule{Chance: 1, FullShare: 1},
				Secondary:     ClauseRule{Chance: 1, FullShare: 1},
			},
		},
		LoyaltyBonus: LoyaltyBonus{MinReputation: 30, Chance: 0.25, List: NarrowList},
	}
}

// LoadTuning reads a YAML override on top of DefaultTuning. An empty path returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return Tuning{}, fmt.Errorf("decode tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// ErrInvalidTuning is returned for inconsistent tuning values.
var ErrInvalidTuning = errors.New("invalid offer tuning")

// Validate checks ranges and sorts bands by MinReputation.
func (t *Tuning) Validate() error {
	if t.MinCompensation <= 0 || t.MaxCompensation < t.MinCompensation {
		return fmt.Errorf("%w: compensation bounds %.2f..%.2f", ErrInvalidTuning, t.MinCompensation, t.MaxCompensation)
	}
	if t.EntryMaxCompensation < t.EntryMinCompensation {
		return fmt.Errorf("%w: entry compensation bounds", ErrInvalidTuning)
	}
	if t.EntryYears < 1 {
		return fmt.Errorf("%w: entry years %d", ErrInvalidTuning, t.EntryYears)
	}
	if !probability(t.ConditionalChance) || !probability(t.LoyaltyBonus.Chance) {
		return fmt.Errorf("%w: probability out of range", ErrInvalidTuning)
	}
	if len(t.Bands) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidTuning)
	}
	sort.SliceStable(t.Bands, func(i, j int) bool { return t.Bands[i].MinReputation < t.Bands[j].MinReputation })
	if t.Bands[0].MinReputation != 0 {
		return fmt.Errorf("%w: first band must start at 0", ErrInvalidTuning)
	}
	for _, b := range t.Bands {
		for _, r := range []ClauseRule{b.Primary, b.Secondary} {
			if !probability(r.Chance) || !probability(r.FullShare) {
				return fmt.Errorf("%w: band %d probability out of range", ErrInvalidTuning, b.MinReputation)
			}
			if r.Chance > 0 && r.FullShare < 1 && (r.List.Min < 1 || r.List.Max < r.List.Min) {
				return fmt.Errorf("%w: band %d list range", ErrInvalidTuning, b.MinReputation)
			}
		}
	}
	return nil
}

func (t *Tuning) band(reputation int) Band {
	b := t.Bands[0]
	for _, candidate := range t.Bands {
		if reputation >= candidate.MinReputation {
			b = candidate
		}
	}
	return b
}

func probability(p float64) bool { return p >= 0 && p <= 1 }
