package server

import (
	"oscillate/internal/dataType"
	"oscillate/internal/utils"
)

// Locate returns the index of the first block whose data is name.
// The boolean is false when name is not in the chain.
func Locate(chain *dataType.Chain, name string) (int, bool) {
	if chain == nil {
		return 0, false
	}
	for i, b := range chain.Blocks {
		if b.Data == name {
			return i, true
		}
	}
	return 0, false
}

// Classify maps a location to its position. A single-entry chain is first;
// a location outside the chain has no position.
func Classify(chain *dataType.Chain, location int) dataType.Position {
	switch {
	case location < 0 || location >= chain.Len():
		return dataType.PositionNone
	case location == 0:
		return dataType.PositionFirst
	case location == chain.Len()-1:
		return dataType.PositionLast
	default:
		return dataType.PositionMiddle
	}
}

func neighborAt(chain *dataType.Chain, index int) (string, bool) {
	if chain == nil || index < 0 || index >= len(chain.Blocks) {
		return "", false
	}
	name := chain.Blocks[index].Data
	if !utils.IsNameValid(name) {
		return "", false
	}
	return name, true
}

// Above returns the peer one step toward higher indices.
func Above(chain *dataType.Chain, location int) (string, bool) {
	return neighborAt(chain, location+1)
}

// Below returns the peer one step toward lower indices.
func Below(chain *dataType.Chain, location int) (string, bool) {
	return neighborAt(chain, location-1)
}

// Pick probes above first, then below.
func Pick(chain *dataType.Chain, location int) (string, dataType.Direction, bool) {
	if name, ok := Above(chain, location); ok {
		return name, dataType.DirectionUp, true
	}
	if name, ok := Below(chain, location); ok {
		return name, dataType.DirectionDown, true
	}
	return "", dataType.DirectionNone, false
}
