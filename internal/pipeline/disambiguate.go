package pipeline

import (
	"strings"

	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/log"
)

// disambiguation is the verdict on whether a query is really about the
// configured organization rather than a similarly named one.
type disambiguation struct {
	ok     bool
	entity string // colliding entity name when ok is false
	score  float64
}

// Disambiguator separates the organization from unrelated entities that
// share its name. Two or more keyword hits for a collision entity means
// the user is asking about someone else.
type Disambiguator struct {
	profile config.Profile
	logger  log.Logger
}

func NewDisambiguator(profile config.Profile, logger log.Logger) *Disambiguator {
	return &Disambiguator{profile: profile, logger: logger.With("component", "disambiguator")}
}

// Check evaluates a normalized query. A rejection names the colliding
// entity so the response can state both parties explicitly.
func (d *Disambiguator) Check(query string) disambiguation {
	lower := strings.ToLower(query)
	words := tokenSet(lower)

	for _, entity := range d.profile.CollisionEntities {
		hits := 0
		for _, kw := range entity.Keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if words[kw] || strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits >= 2 {
			d.logger.Debug("collision entity detected",
				"entity", entity.Name, "hits", hits)
			return disambiguation{ok: false, entity: entity.Name}
		}
	}

	// Indicator keywords only raise confidence, they never reject.
	var score float64
	for _, kw := range d.profile.IndicatorKeywords {
		kw = strings.ToLower(kw)
		if kw != "" && (words[kw] || strings.Contains(lower, kw)) {
			score += 1.0
		}
	}

	return disambiguation{ok: true, score: score}
}
