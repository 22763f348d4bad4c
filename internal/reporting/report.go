package reporting

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trungnq137/crypto-dip-bot/internal/exchange"
)

// Row is one fill as it appears in a report.
type Row struct {
	Time        time.Time
	Exchange    string
	Pair        string
	Side        string
	Price       decimal.Decimal
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	FeeCurrency string
	TradeID     string
}

// QuoteValue is the fill's notional in quote units.
func (r Row) QuoteValue() decimal.Decimal {
	return r.Price.Mul(r.Amount)
}

// feeInQuote converts the fee to quote units. Fees paid in the base asset
// are valued at the fill price; fees in anything else (exchange token
// discounts) count as zero rather than guessing a rate.
func (r Row) feeInQuote() decimal.Decimal {
	base, quote, err := exchange.SplitPair(r.Pair)
	if err != nil {
		return decimal.Zero
	}
	switch r.FeeCurrency {
	case quote:
		return r.Fee
	case base:
		return r.Fee.Mul(r.Price)
	default:
		return decimal.Zero
	}
}

var csvHeader = []string{
	"ts", "ts_iso", "exchange", "pair", "side",
	"price", "amount", "quote_value", "fee", "fee_currency", "trade_id",
}

// BuildCSV renders the rows with a trailing TOTAL line summing quote volume
// and quote-valued fees.
func BuildCSV(rows []Row) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write(csvHeader)

	totalQuote := decimal.Zero
	totalFees := decimal.Zero
	for _, r := range rows {
		totalQuote = totalQuote.Add(r.QuoteValue())
		totalFees = totalFees.Add(r.feeInQuote())
		_ = w.Write([]string{
			strconv.FormatInt(r.Time.Unix(), 10),
			r.Time.UTC().Format(time.RFC3339),
			r.Exchange,
			r.Pair,
			r.Side,
			r.Price.String(),
			r.Amount.String(),
			r.QuoteValue().String(),
			r.Fee.String(),
			r.FeeCurrency,
			r.TradeID,
		})
	}

	total := make([]string, len(csvHeader))
	total[0] = "TOTAL"
	total[7] = totalQuote.String()
	total[8] = totalFees.String()
	_ = w.Write(total)

	w.Flush()
	return buf.Bytes()
}
