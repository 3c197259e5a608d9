package trip

import "errors"

var (
	ErrRouteFetchAborted = errors.New("route fetch aborted")
	ErrRouteFetchFailed  = errors.New("route fetch failed")
	ErrNoCoordinates     = errors.New("target has no coordinates")
)
