package bms

// legacyHalves holds whichever halves of a legacy reading have arrived.
// Both nil, only first, or only second; never both after mergeLegacy.
type legacyHalves struct {
	first  *LegacyInfo1
	second *LegacyInfo2
}

func (h legacyHalves) withFirst(l LegacyInfo1) legacyHalves {
	h.first = &l
	return h
}

func (h legacyHalves) withSecond(l LegacyInfo2) legacyHalves {
	h.second = &l
	return h
}

// mergeLegacy consumes both halves when present and returns the cleared
// state with the merged reading. Otherwise h is returned unchanged.
func mergeLegacy(h legacyHalves) (legacyHalves, *PackInfo) {
	if h.first == nil || h.second == nil {
		return h, nil
	}
	pack := &PackInfo{
		Voltage:         int32(h.first.Voltage),
		Current:         int32(h.first.Current),
		Percentage:      int(h.first.Percentage),
		RemainingCharge: int32(h.first.RemainingCharge),
		FullCharge:      int32(h.first.FullCharge),
		FactoryCapacity: int32(h.second.FactoryCapacity),
		Temperatures:    []Kelvin{h.second.Temperature},
	}
	return legacyHalves{}, pack
}
