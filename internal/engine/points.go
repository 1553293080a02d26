package engine

// Point awards for narrative actions, credited through the PointLedger as
// best-effort side effects after a transition commits.
const (
	PointsFragmentRead    = 0.5
	PointsDecisionMade    = 1.0
	PointsChapterComplete = 5.0
	PointsStoryComplete   = 25.0
	PointsHiddenFound     = 10.0
)
