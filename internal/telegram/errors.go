package telegram

import (
	"errors"

	"github.com/LADAN401/Elite-Degen/internal/detect"
	"github.com/LADAN401/Elite-Degen/internal/marketdata"
	"github.com/LADAN401/Elite-Degen/internal/redis"
	"github.com/LADAN401/Elite-Degen/internal/registry"
)

// UserMessage converts a handler error into the reply shown to the user
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, detect.ErrInvalidAddress):
		return MsgInvalidAddress
	case errors.Is(err, detect.ErrInvalidTicker), errors.Is(err, detect.ErrNoMatch):
		return MsgInvalidQuery
	case errors.Is(err, registry.ErrDuplicateEntry):
		return MsgDuplicate
	case errors.Is(err, marketdata.ErrNotFound):
		return MsgNotFound
	case errors.Is(err, marketdata.ErrUpstream):
		return MsgUpstream
	case errors.Is(err, redis.ErrRateLimited):
		return MsgRateLimited
	default:
		return MsgInternal
	}
}
