package parser

import (
	"math"
	"regexp"
	"strings"
)

// ChineseParser handles the Chinese alert format:
//
//	看多
//	标的: NQ
//	价格: 19656.00
//	策略: OrderFlowBot3.5 (ID 3)
type ChineseParser struct {
	direction *regexp.Regexp
	symbol    *regexp.Regexp
	price     *regexp.Regexp
	strategy  *regexp.Regexp
}

func NewChineseParser() *ChineseParser {
	return &ChineseParser{
		direction: regexp.MustCompile(`(看多|看空)`),
		symbol:    regexp.MustCompile(`标的[：:]\s*([A-Za-z0-9.\-]+)`),
		price:     regexp.MustCompile(`价格[：:]\s*([$€£¥]?\s*[\d,]+(?:\.\d+)?)`),
		strategy:  regexp.MustCompile(`策略[：:]\s*([\w.\-]+)(?:\s*\(ID\s*(\d+)\))?`),
	}
}

func (p *ChineseParser) CanParse(raw string) bool {
	return p.direction.MatchString(raw) && p.symbol.MatchString(raw)
}

func (p *ChineseParser) Parse(raw string) (Extract, error) {
	direction := p.direction.FindStringSubmatch(raw)
	if direction == nil {
		return Extract{}, ErrMissingDirection
	}
	symbol := p.symbol.FindStringSubmatch(raw)
	if symbol == nil {
		return Extract{}, ErrMissingSymbol
	}

	out := Extract{
		Symbol:     strings.ToUpper(symbol[1]),
		Price:      math.NaN(),
		Bull:       direction[1] == "看多",
		StrategyID: "unknown",
		MarketData: map[string]float64{},
	}

	if m := p.price.FindStringSubmatch(raw); m != nil {
		v, err := parseAmount("price", m[1])
		if err != nil {
			return Extract{}, err
		}
		out.Price = v
	}

	if m := p.strategy.FindStringSubmatch(raw); m != nil {
		out.StrategyID = m[1]
		if m[2] != "" {
			out.StrategyID = m[2]
		}
	}

	return out, nil
}
