/**
 * Profile Layout Classifier
 *
 * Turns OCR word boxes of a profile screenshot into a verdict:
 * - locates landmarks (display name, handle, join date, stat row, follow button)
 * - validates their top-to-bottom order
 * - reads the follow state from the follow button zone only
 *
 * Precision over recall: anything ambiguous is left for a human reviewer.
 */

package layout

import (
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/followverify-worker/internal/logging"
)

const (
	ReasonNoText        = "No text found"
	ReasonOutOfOrder    = "Layout mismatch (elements out of order)"
	ReasonTooFew        = "Not enough profile elements found"
	ReasonAmbiguous     = "Ambiguous layout (no strong markers found)"
	ReasonValid         = "Profile layout recognized"
	minNormalizedLength = 2
)

// candidate is a word projected into page-relative coordinates.
type candidate struct {
	raw        string
	normalized string
	relX       float64
	relY       float64
}

// slotRule is one landmark predicate. Rules are evaluated in declaration order
// for every word; the window boundaries are calibrated against real captures.
type slotRule struct {
	name  string
	field func(*LandmarkSet) **Landmark
	match func(c candidate) (ok bool, strong bool)
}

var slotRules = []slotRule{
	{
		name:  "displayName",
		field: func(s *LandmarkSet) **Landmark { return &s.DisplayName },
		match: func(c candidate) (bool, bool) {
			// left aligned only, centered keyboard suggestions land here too
			return within(c.relY, 0.15, 0.55) && c.relX < 0.6, false
		},
	},
	{
		name:  "username",
		field: func(s *LandmarkSet) **Landmark { return &s.Username },
		match: func(c candidate) (bool, bool) {
			return within(c.relY, 0.20, 0.65) && c.relX < 0.6, hasHandleMarker(c.raw)
		},
	},
	{
		name:  "joinedDate",
		field: func(s *LandmarkSet) **Landmark { return &s.JoinedDate },
		match: func(c candidate) (bool, bool) {
			return within(c.relY, 0.30, 0.90) && c.relX < 0.6 && strings.Contains(c.normalized, "joined"), true
		},
	},
	{
		name:  "followingRow",
		field: func(s *LandmarkSet) **Landmark { return &s.FollowingRow },
		match: func(c candidate) (bool, bool) {
			ok := within(c.relY, 0.40, 0.95) &&
				(strings.Contains(c.normalized, "following") || strings.Contains(c.normalized, "followers"))
			return ok, true
		},
	},
	{
		name:  "followButton",
		field: func(s *LandmarkSet) **Landmark { return &s.FollowButton },
		match: func(c candidate) (bool, bool) {
			// "follow" also covers "following"
			return within(c.relX, 0.60, 0.98) && within(c.relY, 0.30, 0.60) && strings.Contains(c.normalized, "follow"), true
		},
	},
}

// Found lists the filled slots in evaluation order.
func (s LandmarkSet) Found() []string {
	var names []string
	for _, rule := range slotRules {
		if *rule.field(&s) != nil {
			names = append(names, rule.name)
		}
	}
	return names
}

// Classifier validates profile screenshots from OCR output
type Classifier struct {
	logger *logging.Logger
}

// NewClassifier creates a classifier. A nil logger disables logging.
func NewClassifier(logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Classifier{logger: logger}
}

// Classify runs a classification pass with logging disabled.
func Classify(words []Word, dims Dimensions) Verdict {
	return NewClassifier(nil).Classify(words, dims)
}

// Classify judges whether the words form a well-formed profile page and
// which follow state it shows.
func (c *Classifier) Classify(words []Word, dims Dimensions) Verdict {
	if len(words) == 0 {
		return Verdict{IsValid: false, Reason: ReasonNoText, FollowState: FollowStateUnknown, Confidence: 0}
	}

	if !dims.Valid() {
		c.logger.Debug("Invalid page dimensions, using defaults", "width", dims.Width, "height", dims.Height)
		dims = DefaultDimensions
	}

	set := c.detectLandmarks(words, dims)

	if !inVerticalOrder(set.ordered()) {
		c.logger.Debug("Landmarks out of order")
		return Verdict{IsValid: false, Reason: ReasonOutOfOrder, FollowState: FollowStateUnknown, Confidence: 50, Landmarks: set}
	}

	state := followStateOf(set.FollowButton)

	foundCount, strongCount := 0, 0
	for _, lm := range set.ordered() {
		if lm == nil {
			continue
		}
		foundCount++
		if lm.IsStrong {
			strongCount++
		}
	}

	c.logger.Debug("Layout classified",
		"words", len(words), "found", foundCount, "strong", strongCount, "followState", state)

	switch {
	case foundCount < 2:
		return Verdict{IsValid: false, Reason: ReasonTooFew, FollowState: state, Confidence: 20, Landmarks: set}
	case strongCount == 0 && foundCount < 3:
		return Verdict{IsValid: false, Reason: ReasonAmbiguous, FollowState: state, Confidence: 40, Landmarks: set}
	}

	confidence := 85
	if strongCount > 1 {
		confidence = 95
	}
	return Verdict{IsValid: true, Reason: ReasonValid, FollowState: state, Confidence: confidence, Landmarks: set}
}

// detectLandmarks fills each slot with the first qualifying word, letting a
// strong match supersede an earlier positional guess.
func (c *Classifier) detectLandmarks(words []Word, dims Dimensions) LandmarkSet {
	var set LandmarkSet

	for _, w := range words {
		cand := project(w, dims)
		if utf8.RuneCountInString(cand.normalized) < minNormalizedLength {
			continue
		}

		for _, rule := range slotRules {
			ok, strong := rule.match(cand)
			if !ok {
				continue
			}
			slot := rule.field(&set)
			if *slot != nil && (!strong || (*slot).IsStrong) {
				continue
			}
			*slot = &Landmark{
				Text:       w.Text,
				Normalized: cand.normalized,
				RelX:       cand.relX,
				RelY:       cand.relY,
				IsStrong:   strong,
			}
		}
	}

	return set
}

func project(w Word, dims Dimensions) candidate {
	midX := float64(w.Box.X0+w.Box.X1) / 2
	midY := float64(w.Box.Y0+w.Box.Y1) / 2
	return candidate{
		raw:        w.Text,
		normalized: Normalize(w.Text),
		relX:       midX / float64(dims.Width),
		relY:       midY / float64(dims.Height),
	}
}

// inVerticalOrder checks present landmarks never move up the page.
func inVerticalOrder(landmarks []*Landmark) bool {
	floor := 0.0
	for _, lm := range landmarks {
		if lm == nil {
			continue
		}
		if lm.RelY < floor {
			return false
		}
		floor = lm.RelY
	}
	return true
}

func followStateOf(button *Landmark) FollowState {
	if button == nil {
		return FollowStateUnknown
	}

	raw := strings.ToLower(button.Text)
	switch {
	case strings.Contains(button.Normalized, "following") || strings.Contains(raw, "foll0wing"):
		return FollowStateFollowing
	case strings.Contains(button.Normalized, "follow") || strings.Contains(raw, "f0llow"):
		return FollowStateNotFollowing
	default:
		return FollowStateUnknown
	}
}

func hasHandleMarker(raw string) bool {
	raw = strings.TrimSpace(raw)
	return strings.HasPrefix(raw, "@") || strings.HasPrefix(raw, "©")
}

func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}
