package cache

const (
	SetIfCurrentScript = setIfCurrent
	RaiseFloorScript   = raiseFloor
)
