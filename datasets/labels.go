package datasets

import (
	"strconv"

	"github.com/Noofbiz/cholec80/records"
)

// PhaseNames are the seven Cholec80 surgical phases, indexed by label.
var PhaseNames = []string{
	"Preparation",
	"CalotTriangleDissection",
	"ClippingCutting",
	"GallbladderDissection",
	"GallbladderPackaging",
	"CleaningCoagulation",
	"GallbladderRetraction",
}

// InstrumentNames are the tools behind the seven instrument labels, in
// label order.
var InstrumentNames = [records.NumInstruments]string{
	"Grasper",
	"Bipolar",
	"Hook",
	"Scissors",
	"Clipper",
	"Irrigator",
	"SpecimenBag",
}

// PhaseName returns the name of phase p, or its number for labels outside
// the known range.
func PhaseName(p int64) string {
	if p >= 0 && p < int64(len(PhaseNames)) {
		return PhaseNames[p]
	}
	return strconv.FormatInt(p, 10)
}
