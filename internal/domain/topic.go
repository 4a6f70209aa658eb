package domain

import (
	"strings"
)

// TopicPrefix is shared by every topic the spider publishes.
const TopicPrefix = "EXECUTE_ENGINE.SPIDER"

// DataKind is the trailing segment of a topic.
type DataKind string

const (
	KindBook            DataKind = "BOOK"
	KindTicker          DataKind = "TICKER"
	KindMarkPrice       DataKind = "MARK_PRICE"
	KindUnderlyingPrice DataKind = "UNDERLYING_PRICE"
	KindIndexPrice      DataKind = "INDEX_PRICE"
	KindOpenInterest    DataKind = "OPEN_INTEREST"
	KindFundingRate     DataKind = "FUNDING_RATE"
)

// Topic builds EXECUTE_ENGINE.SPIDER.{exchange}.{category}.{currency}.{instrument}.{kind}.
// Consumers split it on dots positionally, so the segment order must never change.
func Topic(exchange string, category Category, currency, instrument string, kind DataKind) string {
	var b strings.Builder
	b.Grow(len(TopicPrefix) + len(exchange) + len(category) + len(currency) + len(instrument) + len(kind) + 5)
	b.WriteString(TopicPrefix)
	for _, part := range []string{exchange, string(category), currency, instrument, string(kind)} {
		b.WriteByte('.')
		b.WriteString(part)
	}
	return strings.ToUpper(b.String())
}

// InstrumentTopic builds the topic for an instrument using its own base currency.
func InstrumentTopic(inst Instrument, kind DataKind) string {
	return Topic(inst.Exchange, inst.Category, BaseCurrency(inst), inst.Name, kind)
}

// BaseCurrency returns the instrument's base currency, falling back to the first
// segment of its name ("BTC-PERPETUAL" -> "BTC", "BTC_USDT" -> "BTC").
func BaseCurrency(inst Instrument) string {
	if inst.Base != "" {
		return inst.Base
	}
	name := inst.Name
	if i := strings.IndexAny(name, "-_"); i >= 0 {
		return name[:i]
	}
	return name
}
