package scorer

import "strings"

// Tier is a bucketed confidence level.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// UnknownCategory is assigned when no keyword of any category matches.
const UnknownCategory = "unknown"

// Match weights and tier thresholds are kept in tenths so that accumulated
// scores compare exactly.
const (
	multiWordWeight  = 3
	singleWordWeight = 2
	highThreshold    = 5
	mediumThreshold  = 3
)

// Category is a diagnostic label with the phrases that indicate it.
type Category struct {
	Name     string
	Keywords []string
}

// Table is an ordered, read-only category keyword table. Build it once with
// NewTable and share it; nothing mutates it after construction.
type Table struct {
	categories []Category
}

// NewTable copies categories into a Table, lower-casing every keyword.
// Categories without a name or keywords are dropped.
func NewTable(categories []Category) *Table {
	t := &Table{categories: make([]Category, 0, len(categories))}
	for _, c := range categories {
		if c.Name == "" || len(c.Keywords) == 0 {
			continue
		}
		kws := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) > 0 {
			t.categories = append(t.categories, Category{Name: c.Name, Keywords: kws})
		}
	}
	return t
}

// DefaultTable returns the built-in lawn problem table.
func DefaultTable() *Table {
	return NewTable(defaultCategories)
}

// Len returns the number of categories.
func (t *Table) Len() int {
	return len(t.categories)
}

// Names returns the category names in table order.
func (t *Table) Names() []string {
	names := make([]string, len(t.categories))
	for i, c := range t.categories {
		names[i] = c.Name
	}
	return names
}

// Keywords returns every keyword flattened in table order, duplicates included.
func (t *Table) Keywords() []string {
	var all []string
	for _, c := range t.categories {
		all = append(all, c.Keywords...)
	}
	return all
}

// SearchTerms returns the first n flattened keywords. n <= 0 returns all of them.
func (t *Table) SearchTerms(n int) []string {
	all := t.Keywords()
	if n > 0 && n < len(all) {
		return all[:n]
	}
	return all
}

// Categorize picks the category with the strictly highest keyword score for
// the combined title and body. Multi-word phrases weigh more than single
// words. Ties keep the earlier category. No match yields ("unknown", low).
func (t *Table) Categorize(title, body string) (string, Tier) {
	text := strings.ToLower(title + " " + body)

	best := UnknownCategory
	bestScore := 0
	for _, c := range t.categories {
		score := 0
		for _, kw := range c.Keywords {
			if !strings.Contains(text, kw) {
				continue
			}
			if strings.Contains(kw, " ") {
				score += multiWordWeight
			} else {
				score += singleWordWeight
			}
		}
		if score > bestScore {
			best = c.Name
			bestScore = score
		}
	}

	return best, tierFor(bestScore)
}

func tierFor(score int) Tier {
	switch {
	case score >= highThreshold:
		return TierHigh
	case score >= mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

var defaultCategories = []Category{
	// Visual damage
	{"dog_urine_spots", []string{"dog urine", "pet damage", "round dead patches", "dark green rings", "circular brown spots", "dog pee spots"}},
	{"dull_mower_blades", []string{"dull mower blades", "frayed grass", "shredded grass", "brown tips", "ragged edges", "torn grass"}},
	{"fertilizer_burn", []string{"fertilizer burn", "over fertilized", "yellow streaks", "chemical burn", "nitrogen burn", "fertilizer stripes"}},
	{"grubs", []string{"grubs", "white grubs", "grass peels like carpet", "animals digging", "soft lawn", "grub damage"}},
	{"chinch_bugs", []string{"chinch bugs", "sunny area damage", "spreading brown patches", "small bugs", "chinch bug damage"}},

	// Disease
	{"brown_patch_disease", []string{"brown patch", "circular brown spots", "smoky edge", "fungal disease", "humid", "brown patch disease"}},
	{"dollar_spot", []string{"dollar spot", "small round spots", "silver dollar size", "straw colored", "tiny spots"}},
	{"fairy_rings", []string{"fairy rings", "mushroom rings", "circular mushrooms", "dark green rings", "fairy ring"}},
	{"rust_fungus", []string{"rust disease", "orange dust", "orange powder", "rusty grass", "powder on blades", "rust fungus"}},

	// Environment
	{"drought_stress", []string{"drought", "dry grass", "crispy grass", "footprints visible", "water stress", "drought stress"}},
	{"overwatering", []string{"overwatering", "soggy lawn", "yellow from water", "mushrooms", "too much water", "overwatered"}},
	{"compacted_soil", []string{"compacted soil", "hard soil", "water runs off", "hard ground", "dense soil", "soil compaction"}},
	{"thatch_buildup", []string{"thatch buildup", "spongy lawn", "thick thatch", "bouncy grass", "thatch layer"}},
	{"moss_invasion", []string{"moss", "green moss", "moss taking over", "moss problem", "moss replacing grass"}},

	// Weeds
	{"broadleaf_weeds", []string{"dandelions", "clover", "broad leaves", "yellow flowers", "white flowers", "thistle", "broadleaf weeds"}},
	{"grassy_weeds", []string{"crabgrass", "nutsedge", "coarse grass", "different grass", "thick blades", "triangular stems"}},
	{"creeping_weeds", []string{"ground ivy", "creeping charlie", "vine weeds", "runners", "spreading weeds", "creeping weeds"}},
	{"general_weed_invasion", []string{"weeds taking over", "more weeds than grass", "weed invasion", "too many weeds", "lawn full of weeds"}},

	// Other
	{"crabgrass", []string{"crabgrass", "coarse grass", "thick blades", "spreading grass weed", "summer weed"}},
	{"bare_patches", []string{"bare spots", "thin grass", "patchy lawn", "bare patches", "thin areas"}},
	{"scalping", []string{"scalped lawn", "cut too short", "mowed too low", "scalping damage"}},
	{"salt_damage", []string{"salt damage", "road salt", "ice melt", "winter salt", "salt burn"}},
}
