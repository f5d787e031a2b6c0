package parser

import (
	"math"
	"regexp"
	"strings"
)

// StandardParser handles the English keyword/field alert format:
//
//	Bullish Bias
//	Detected Symbol: NQ
//	Price: 19,656.00
//	Strategy: OrderFlowBot3.5 (ID 3)
//	Market: NDX 19455.68, SPX 4561.37
type StandardParser struct {
	bias     *regexp.Regexp
	symbol   *regexp.Regexp
	price    *regexp.Regexp
	strategy *regexp.Regexp
	market   *regexp.Regexp
}

func NewStandardParser() *StandardParser {
	return &StandardParser{
		bias:     regexp.MustCompile(`(?i)(Bullish|Bearish)\s+Bias`),
		symbol:   regexp.MustCompile(`(?i)(?:Detected\s+)?Symbol:\s*([A-Za-z0-9.\-]+)`),
		price:    regexp.MustCompile(`(?i)Price:\s*([$€£¥]?\s*[\d,]+(?:\.\d+)?)`),
		strategy: regexp.MustCompile(`(?i)Strategy:\s*([\w.\-]+)(?:\s*\(ID\s*(\d+)\))?`),
		market:   regexp.MustCompile(`(?i)Market:\s*(.*?)(?:\n|$)`),
	}
}

func (p *StandardParser) CanParse(raw string) bool {
	return p.bias.MatchString(raw) && p.symbol.MatchString(raw)
}

func (p *StandardParser) Parse(raw string) (Extract, error) {
	bias := p.bias.FindStringSubmatch(raw)
	if bias == nil {
		return Extract{}, ErrMissingDirection
	}
	symbol := p.symbol.FindStringSubmatch(raw)
	if symbol == nil {
		return Extract{}, ErrMissingSymbol
	}

	out := Extract{
		Symbol:     strings.ToUpper(symbol[1]),
		Price:      math.NaN(),
		Bull:       strings.EqualFold(bias[1], "Bullish"),
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

	// Auxiliary context like "NDX 19455.68, SPX 4561.37". Unparsable
	// pairs are skipped, not validated.
	if m := p.market.FindStringSubmatch(raw); m != nil {
		for _, item := range strings.Split(m[1], ",") {
			parts := strings.Fields(strings.TrimSpace(item))
			if len(parts) < 2 {
				continue
			}
			if v, err := parseAmount("market", parts[1]); err == nil {
				out.MarketData[strings.ToUpper(parts[0])] = v
			}
		}
	}

	return out, nil
}
