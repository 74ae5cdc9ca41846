/**
 * Layout types - OCR words and the profile-page landmarks found among them
 */

package layout

// DefaultDimensions is used when the screenshot size cannot be derived from
// the evidence. Matches a typical portrait phone capture.
var DefaultDimensions = Dimensions{Width: 1000, Height: 2000}

// BoundingBox is a word region in absolute pixel coordinates.
type BoundingBox struct {
	X0 int
	Y0 int
	X1 int
	Y1 int
}

// Word is a single recognized OCR token
type Word struct {
	Text       string
	Confidence float64
	Box        BoundingBox
}

// Dimensions of the recognized page in pixels
type Dimensions struct {
	Width  int
	Height int
}

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// FollowState is the follow relation shown by the profile's follow button
type FollowState string

const (
	FollowStateFollowing    FollowState = "following"
	FollowStateNotFollowing FollowState = "not_following"
	FollowStateUnknown      FollowState = "unknown"
)

// Landmark is a word matched to a slot on the profile page.
type Landmark struct {
	Text       string // raw OCR text
	Normalized string
	RelX       float64
	RelY       float64
	IsStrong   bool // matched on a keyword or handle marker rather than position alone
}

// LandmarkSet is the scratch state of a single classification pass.
type LandmarkSet struct {
	DisplayName  *Landmark
	Username     *Landmark
	JoinedDate   *Landmark
	FollowingRow *Landmark
	FollowButton *Landmark
}

// ordered returns the slots whose vertical order is validated, top to bottom.
func (s *LandmarkSet) ordered() []*Landmark {
	return []*Landmark{s.DisplayName, s.Username, s.JoinedDate, s.FollowingRow}
}

// Verdict is the classifier output
type Verdict struct {
	IsValid     bool
	Reason      string
	FollowState FollowState
	Confidence  int // 0-100, coarse triage signal
	Landmarks   LandmarkSet
}
