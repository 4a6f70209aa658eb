package okx

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"spider_go/internal/domain"

	"github.com/shopspring/decimal"
)

// OKX instrument types.
const (
	InstSpot    = "SPOT"
	InstSwap    = "SWAP"
	InstFutures = "FUTURES"
	InstOption  = "OPTION"
)

var (
	expiryRe = regexp.MustCompile(`^\d{6}$`)
	// Spot markets are only followed against these quotes.
	spotQuotes = []string{"USDT", "BTC"}
)

// ToSystem converts a venue id into the system instrument name.
//
//	BTC-USDT-SWAP          -> BTC-USDT-PERPETUAL
//	BTC-USD-SWAP           -> BTC-PERPETUAL
//	BTC-USD-220408         -> BTC-8APR22
//	BTC-USDT-220408        -> BTC-USDT-8APR22
//	BTC-USD-220624-45000-C -> BTC-24JUN22-45000-C
//	SOL-USD-220624-95.0-C  -> SOL-24JUN22-95-C
//	BTC-USDC-220624-45-C   -> BTC-USDC-24JUN22-45-C
//	BTC-USDT               -> BTC-USDT
func ToSystem(instID string) string {
	parts := strings.Split(instID, "-")
	if len(parts) > 2 && parts[1] == "USD" {
		parts = append(parts[:1], parts[2:]...)
	}

	last := len(parts) - 1
	switch {
	case parts[last] == "SWAP":
		parts[last] = "PERPETUAL"
	case expiryRe.MatchString(parts[last]):
		parts[last] = expiryToSystem(parts[last])
	case len(parts) >= 4 && expiryRe.MatchString(parts[last-2]):
		parts[last-2] = expiryToSystem(parts[last-2])
		if strike, err := decimal.NewFromString(parts[last-1]); err == nil {
			parts[last-1] = strike.String()
		}
	}
	return strings.Join(parts, "-")
}

// expiryToSystem turns "220408" into "8APR22".
func expiryToSystem(s string) string {
	t, err := time.Parse("060102", s)
	if err != nil {
		return s
	}
	return strings.ToUpper(t.Format("2Jan06"))
}

// CategoryOf derives the system category of a venue instrument.
func CategoryOf(instType, instID string) (domain.Category, error) {
	parts := strings.Split(instID, "-")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, instID)
	}
	quote := parts[1]

	switch instType {
	case InstSpot:
		return domain.CategorySpot, nil
	case InstSwap:
		return derivative("SWAP_", quote, instID)
	case InstFutures:
		return derivative("FUTURE_", quote, instID)
	case InstOption:
		if quote == "USDC" {
			return domain.CategoryOptionUSDC, nil
		}
		return domain.CategoryOption, nil
	}
	return "", fmt.Errorf("%w: %s (%s)", domain.ErrUnknownInstrument, instID, instType)
}

func derivative(prefix, quote, instID string) (domain.Category, error) {
	switch quote {
	case "USD", "USDT", "USDC":
		return domain.Category(prefix + quote), nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrUnknownInstrument, instID)
}

// InstTypeOf maps a configured kind to the OKX instrument type that lists it.
func InstTypeOf(kind domain.Category) (string, bool) {
	switch {
	case kind == domain.CategorySpot:
		return InstSpot, true
	case kind.IsOption():
		return InstOption, true
	case strings.HasPrefix(string(kind), "SWAP_"):
		return InstSwap, true
	case strings.HasPrefix(string(kind), "FUTURE_"):
		return InstFutures, true
	}
	return "", false
}

// optionFamily returns the instFamily of an option kind for a currency.
func optionFamily(currency string, kind domain.Category) string {
	if kind == domain.CategoryOptionUSDC {
		return currency + "-USDC"
	}
	return currency + "-USD"
}

// Filter decides which listed instruments the spider follows: the
// configured currencies, and per instrument type the configured quotes.
type Filter struct {
	currencies map[string]bool
	kinds      map[domain.Category]bool
	instTypes  []string
}

// NewFilter validates kinds and builds the filter.
func NewFilter(currencies, kinds []string) (*Filter, error) {
	f := &Filter{
		currencies: make(map[string]bool, len(currencies)),
		kinds:      make(map[domain.Category]bool, len(kinds)),
	}
	for _, c := range currencies {
		f.currencies[strings.ToUpper(c)] = true
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		kind := domain.Category(strings.ToUpper(k))
		instType, ok := InstTypeOf(kind)
		if !ok {
			return nil, &domain.ConfigError{Field: "spider.kinds", Err: fmt.Errorf("unsupported kind %q", k)}
		}
		f.kinds[kind] = true
		if !seen[instType] {
			seen[instType] = true
			f.instTypes = append(f.instTypes, instType)
		}
	}
	return f, nil
}

// InstTypes lists the OKX instrument types to discover, in configuration order.
func (f *Filter) InstTypes() []string { return f.instTypes }

// OptionFamilies lists the instFamily values of the configured option kinds.
func (f *Filter) OptionFamilies() []string {
	var out []string
	for _, kind := range []domain.Category{domain.CategoryOption, domain.CategoryOptionUSDC} {
		if !f.kinds[kind] {
			continue
		}
		for _, c := range f.sortedCurrencies() {
			out = append(out, optionFamily(c, kind))
		}
	}
	return out
}

func (f *Filter) sortedCurrencies() []string {
	out := make([]string, 0, len(f.currencies))
	for c := range f.currencies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Accept reports whether the instrument belongs to a configured currency and kind.
func (f *Filter) Accept(instType, instID string) bool {
	parts := strings.Split(instID, "-")
	if len(parts) < 2 || !f.currencies[parts[0]] {
		return false
	}
	if instType == InstSpot {
		if len(parts) != 2 || !f.kinds[domain.CategorySpot] {
			return false
		}
		for _, q := range spotQuotes {
			if parts[1] == q {
				return true
			}
		}
		return false
	}
	if len(parts) < 3 {
		return false
	}
	category, err := CategoryOf(instType, instID)
	if err != nil {
		return false
	}
	return f.kinds[category]
}
