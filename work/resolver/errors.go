package resolver

import (
	"errors"

	"auproxy/work/types"
)

func isUpstreamError(err error) bool {
	var ue *types.UpstreamError
	return errors.As(err, &ue)
}

func isParseError(err error) bool {
	var pe *types.ParseError
	return errors.As(err, &pe)
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrVideoNotFound)
}
