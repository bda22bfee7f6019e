package handoff

import "fmt"

// Stage is a productive pipeline stage.
type Stage string

const (
	StageDataCollection Stage = "DataCollection"
	StageContent        Stage = "Content"
	StageDesign         Stage = "Design"
	StageQuality        Stage = "Quality"
	StageDelivery       Stage = "Delivery"
)

// Stages lists every productive stage in canonical order.
var Stages = []Stage{StageDataCollection, StageContent, StageDesign, StageQuality, StageDelivery}

// Index returns the position of s in canonical order, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Index() >= 0 }

// Next returns the designated successor of s. Delivery has none.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(Stages)-1 {
		return "", false
	}
	return Stages[i+1], true
}

// ParseStage accepts the canonical stage name, case-sensitive.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

// TransitionType names the boundary a handoff payload crosses.
type TransitionType string

const (
	TransitionDataToContent     TransitionType = "DataCollection->Content"
	TransitionContentToDesign   TransitionType = "Content->Design"
	TransitionDesignToQuality   TransitionType = "Design->Quality"
	TransitionQualityToDelivery TransitionType = "Quality->Delivery"
)

// Transitions lists the defined transition types in canonical order.
var Transitions = []TransitionType{
	TransitionDataToContent,
	TransitionContentToDesign,
	TransitionDesignToQuality,
	TransitionQualityToDelivery,
}

// TransitionFor returns the transition a handoff leaving stage from crosses.
func TransitionFor(from Stage) (TransitionType, bool) {
	to, ok := from.Next()
	if !ok {
		return "", false
	}
	return TransitionType(string(from) + "->" + string(to)), true
}

// Endpoints splits a transition into its source and destination stages.
func (t TransitionType) Endpoints() (from, to Stage, ok bool) {
	for _, s := range Stages {
		next, has := s.Next()
		if !has {
			continue
		}
		if TransitionType(string(s)+"->"+string(next)) == t {
			return s, next, true
		}
	}
	return "", "", false
}

// ParseTransition accepts either the canonical "From->To" form or the
// short aliases used on the command line (data-content, content-design,
// design-quality, quality-delivery).
func ParseTransition(v string) (TransitionType, error) {
	switch v {
	case "data-content":
		return TransitionDataToContent, nil
	case "content-design":
		return TransitionContentToDesign, nil
	case "design-quality":
		return TransitionDesignToQuality, nil
	case "quality-delivery":
		return TransitionQualityToDelivery, nil
	}
	t := TransitionType(v)
	if _, _, ok := t.Endpoints(); !ok {
		return "", fmt.Errorf("unknown transition %q", v)
	}
	return t, nil
}
