// Package offers generates competing contract offers from a reputation score.
package offers

import (
	"math"
	"math/rand/v2"
	"strings"

	"github.com/rosterleague/backend/internal/models"
	"github.com/rosterleague/backend/internal/timemodel"
)

const (
	// rivalOffers is the number of offers from organizations other than the current one.
	rivalOffers   = 2
	maxOfferYears = 8
)

// Input is everything a generation run depends on besides the random source.
type Input struct {
	// Reputation is clamped to [0, 100].
	Reputation int
	// Current is the participant's current organization, empty when unaffiliated.
	Current string
	// Pool is the roster to draw rival offers from. It may contain Current.
	Pool []models.Organization
}

// Generator produces offer sets. It holds no mutable state and is safe for concurrent use
// as long as each call gets its own random source.
type Generator struct {
	tuning Tuning
}

// NewGenerator creates a generator for the given tuning.
func NewGenerator(t Tuning) *Generator {
	return &Generator{tuning: t}
}

// Tuning returns the generator's constants.
func (g *Generator) Tuning() Tuning { return g.tuning }

// Generate returns up to three offers: the current organization's (when affiliated) followed
// by two distinct rivals. A short pool yields fewer offers; organizations never repeat.
func (g *Generator) Generate(in Input, rng *rand.Rand) []models.Offer {
	r := clampReputation(in.Reputation)
	current := strings.TrimSpace(in.Current)

	var out []models.Offer
	if current != "" {
		out = append(out, g.offer(r, current, true, len(in.Pool), rng))
	}
	for _, org := range g.rivals(in.Pool, current, rng) {
		out = append(out, g.offer(r, org, false, len(in.Pool), rng))
	}
	return out
}

// Entry builds the fixed entry-tier offer issued on enrollment.
func (g *Generator) Entry(organization string, rng *rand.Rand) models.Offer {
	t := g.tuning
	comp := t.EntryMinCompensation + rng.Float64()*(t.EntryMaxCompensation-t.EntryMinCompensation)
	return models.Offer{Terms: models.Terms{
		Organization:  organization,
		DurationYears: timemodel.ClampYears(t.EntryYears),
		Compensation:  round2(comp),
		Tier:          models.TierConditional,
	}}
}

func (g *Generator) rivals(pool []models.Organization, current string, rng *rand.Rand) []string {
	seen := make(map[string]struct{}, len(pool))
	if current != "" {
		seen[strings.ToLower(current)] = struct{}{}
	}
	var names []string
	for _, o := range pool {
		key := strings.ToLower(strings.TrimSpace(o.Name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, o.Name)
	}
	rng.Shuffle(len(names), func(i, j int) { names[i], names[j] = names[j], names[i] })
	if len(names) > rivalOffers {
		names = names[:rivalOffers]
	}
	return names
}

func (g *Generator) offer(r int, org string, loyal bool, rosterSize int, rng *rand.Rand) models.Offer {
	years := Years(r, rng)
	return models.Offer{
		Terms: models.Terms{
			Organization:  org,
			DurationYears: years,
			Compensation:  g.compensation(r, loyal, 0.9+rng.Float64()*0.2),
			Tier:          g.tier(r, rng),
			Clauses:       g.clauses(r, loyal, rosterSize, rng),
		},
		Loyalty: loyal,
	}
}

// Years draws a duration: 1 + uniform[0, min(8, r/20+1)], so reputation unlocks longer deals.
func Years(r int, rng *rand.Rand) int {
	span := min(maxOfferYears, clampReputation(r)/20+1)
	return timemodel.ClampYears(1 + rng.IntN(span+1))
}

// BaseCompensation is the reputation-driven compensation before premiums and noise.
func BaseCompensation(r int) float64 {
	return 1.0 + float64(clampReputation(r))/10
}

func (g *Generator) compensation(r int, loyal bool, factor float64) float64 {
	c := BaseCompensation(r)
	if loyal {
		c *= g.tuning.LoyaltyPremium
	}
	c *= factor
	c = math.Max(g.tuning.MinCompensation, math.Min(g.tuning.MaxCompensation, c))
	return round2(c)
}

func (g *Generator) tier(r int, rng *rand.Rand) models.Tier {
	if r <= g.tuning.ConditionalMaxReputation && rng.Float64() < g.tuning.ConditionalChance {
		return models.TierConditional
	}
	return models.TierFull
}

func (g *Generator) clauses(r int, loyal bool, rosterSize int, rng *rand.Rand) []models.Clause {
	band := g.tuning.band(r)
	var out []models.Clause

	primary, ok := grant(band.Primary, models.ClauseNoTrade, rosterSize, rng)
	if !ok && loyal && r >= g.tuning.LoyaltyBonus.MinReputation {
		bonus := ClauseRule{Chance: g.tuning.LoyaltyBonus.Chance, List: g.tuning.LoyaltyBonus.List}
		primary, ok = grant(bonus, models.ClauseNoTrade, rosterSize, rng)
	}
	if ok {
		out = append(out, primary)
	}
	if secondary, ok := grant(band.Secondary, models.ClauseNoMovement, rosterSize, rng); ok {
		out = append(out, secondary)
	}
	return out
}

func grant(rule ClauseRule, kind models.ClauseKind, rosterSize int, rng *rand.Rand) (models.Clause, bool) {
	if rule.Chance <= 0 || rng.Float64() >= rule.Chance {
		return models.Clause{}, false
	}
	c := models.Clause{Kind: kind, Scope: models.ScopeFull}
	if rule.FromYear > 1 {
		c.EffectiveFromYear = rule.FromYear
	}
	if rule.FullShare >= 1 || rng.Float64() < rule.FullShare {
		return c, true
	}
	c.Scope = models.ScopePartial
	c.ListSize = rule.List.Min
	if rule.List.Max > rule.List.Min {
		c.ListSize += rng.IntN(rule.List.Max - rule.List.Min + 1)
	}
	if rosterSize > 1 && c.ListSize > rosterSize-1 {
		c.ListSize = rosterSize - 1
	}
	return c, true
}

func clampReputation(r int) int {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
