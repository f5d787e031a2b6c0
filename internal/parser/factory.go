package parser

import (
	"time"

	"github.com/google/uuid"

	"main/internal/schema"
)

// Factory tries registered parsers in order and returns the first
// match. Registration order decides precedence.
type Factory struct {
	parsers []Parser
	source  string
}

// NewFactory builds a factory over the given parsers.
func NewFactory(source string, parsers ...Parser) *Factory {
	return &Factory{parsers: parsers, source: source}
}

// NewDefaultFactory registers the built-in grammars: the English
// keyword format first, then the Chinese format.
func NewDefaultFactory(source string) *Factory {
	return NewFactory(source, NewStandardParser(), NewChineseParser())
}

// Parse converts a raw alert into an AlertInfo, generating a
// correlation ID for downstream tracing. It returns
// ErrNoMatchingFormat when no registered grammar recognizes the input.
func (f *Factory) Parse(raw string, receivedAt time.Time, channelID string) (schema.AlertInfo, error) {
	for _, p := range f.parsers {
		if !p.CanParse(raw) {
			continue
		}
		ex, err := p.Parse(raw)
		if err != nil {
			return schema.AlertInfo{}, err
		}
		direction := schema.DirectionBear
		if ex.Bull {
			direction = schema.DirectionBull
		}
		ts := receivedAt
		if ts.IsZero() {
			ts = time.Now()
		}
		return schema.AlertInfo{
			Symbol:        ex.Symbol,
			Price:         ex.Price,
			Direction:     direction,
			StrategyID:    ex.StrategyID,
			MarketData:    ex.MarketData,
			Timestamp:     ts,
			Source:        f.source,
			ChannelID:     channelID,
			CorrelationID: uuid.NewString(),
		}, nil
	}
	return schema.AlertInfo{}, ErrNoMatchingFormat
}
