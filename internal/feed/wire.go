package feed

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/tradewatch/alertd/internal/model"
)

// Field numbers from feed.proto.
const (
	fieldFeeds     = 2
	fieldCurrentTs = 3

	fieldMapKey   = 1
	fieldMapValue = 2

	fieldFeedLTPC = 1
	fieldFeedFull = 2

	fieldMarketFF = 1
	fieldIndexFF  = 2

	fieldFullLTPC = 1

	fieldLTP = 1
	fieldCP  = 4
)

// decodeFrame parses one binary frame into ticks. Frames that carry no
// price data (market info, heartbeats) decode to an empty slice.
func decodeFrame(b []byte) ([]model.Tick, error) {
	var (
		ticks []model.Tick
		ts    int64
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldFeeds && typ == protowire.BytesType:
			entry, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("malformed feeds entry: %w", protowire.ParseError(n))
			}
			b = b[n:]

			tick, ok, err := decodeFeedEntry(entry)
			if err != nil {
				return nil, err
			}
			if ok {
				ticks = append(ticks, tick)
			}

		case num == fieldCurrentTs && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("malformed timestamp: %w", protowire.ParseError(n))
			}
			b = b[n:]
			ts = int64(v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	for i := range ticks {
		if ticks[i].TS == 0 {
			ticks[i].TS = ts
		}
	}
	return ticks, nil
}

// decodeFeedEntry parses one feeds map entry. Entries whose feed union holds
// no LTPC block are skipped.
func decodeFeedEntry(b []byte) (model.Tick, bool, error) {
	var (
		key  string
		ltpc []byte
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Tick{}, false, fmt.Errorf("malformed entry tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldMapKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Tick{}, false, fmt.Errorf("malformed entry key: %w", protowire.ParseError(n))
			}
			b = b[n:]
			key = string(v)

		case num == fieldMapValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return model.Tick{}, false, fmt.Errorf("malformed entry value: %w", protowire.ParseError(n))
			}
			b = b[n:]
			ltpc = extractLTPC(v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.Tick{}, false, fmt.Errorf("malformed entry field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if key == "" || ltpc == nil {
		return model.Tick{}, false, nil
	}

	tick := model.Tick{InstrumentKey: key}
	b = ltpc
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return model.Tick{}, false, fmt.Errorf("malformed ltpc tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldLTP && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return model.Tick{}, false, fmt.Errorf("malformed ltp: %w", protowire.ParseError(n))
			}
			b = b[n:]
			tick.LTP = math.Float64frombits(v)

		case num == fieldCP && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return model.Tick{}, false, fmt.Errorf("malformed cp: %w", protowire.ParseError(n))
			}
			b = b[n:]
			tick.Close = math.Float64frombits(v)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return model.Tick{}, false, fmt.Errorf("malformed ltpc field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return tick, true, nil
}

// extractLTPC pulls the raw LTPC block out of a Feed message. Full-mode
// subscriptions nest it under fullFeed.marketFF or fullFeed.indexFF; LTPC
// mode carries it flat at the top of the union. Returns nil when the union
// holds no price data.
func extractLTPC(b []byte) []byte {
	var full []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil
		}
		b = b[n:]

		if typ == protowire.BytesType && (num == fieldFeedLTPC || num == fieldFeedFull) {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil
			}
			if num == fieldFeedLTPC {
				return v
			}
			full = v
			b = b[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil
		}
		b = b[n:]
	}

	if full == nil {
		return nil
	}
	return fullFeedLTPC(full)
}

// fullFeedLTPC descends the fullFeed union. The market sub-structure wins
// over the index one when both carry a price.
func fullFeedLTPC(b []byte) []byte {
	var market, index []byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil
		}
		b = b[n:]

		if typ == protowire.BytesType && (num == fieldMarketFF || num == fieldIndexFF) {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil
			}
			b = b[n:]
			if num == fieldMarketFF {
				market = v
			} else {
				index = v
			}
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil
		}
		b = b[n:]
	}

	src := market
	if src == nil {
		src = index
	}
	if src == nil {
		return nil
	}
	return subMessage(src, fieldFullLTPC)
}

// subMessage returns the raw bytes of the first length-delimited field with
// the given number, or nil.
func subMessage(b []byte, want protowire.Number) []byte {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil
		}
		b = b[n:]

		if num == want && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil
			}
			return v
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return nil
		}
		b = b[n:]
	}
	return nil
}
