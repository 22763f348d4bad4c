package reporting

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// BuildXLSX renders the rows as a workbook with a Trades sheet and a
// per-pair Summary sheet.
func BuildXLSX(rows []Row) ([]byte, error) {
	fx := excelize.NewFile()
	defer fx.Close()

	const tradesSheet = "Trades"
	const summarySheet = "Summary"

	fx.SetSheetName(fx.GetSheetName(0), tradesSheet)
	if _, err := fx.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	if err := writeTradesSheet(fx, tradesSheet, rows, headerStyle); err != nil {
		return nil, err
	}
	if err := writeSummarySheet(fx, summarySheet, rows, headerStyle); err != nil {
		return nil, err
	}

	buf, err := fx.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTradesSheet(fx *excelize.File, sheet string, rows []Row, headerStyle int) error {
	fx.SetColWidth(sheet, "A", "A", 20) // Time
	fx.SetColWidth(sheet, "B", "C", 12) // Exchange, Pair
	fx.SetColWidth(sheet, "E", "H", 14) // Price .. Fee

	headers := []string{"Time (UTC)", "Exchange", "Pair", "Side", "Price", "Amount", "Quote Value", "Fee", "Fee Currency", "Trade ID"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	for n, r := range rows {
		values := []interface{}{
			r.Time.UTC().Format("2006-01-02 15:04:05"),
			r.Exchange,
			r.Pair,
			r.Side,
			toFloat(r.Price),
			toFloat(r.Amount),
			toFloat(r.QuoteValue()),
			toFloat(r.Fee),
			r.FeeCurrency,
			r.TradeID,
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, n+2)
			fx.SetCellValue(sheet, cell, v)
		}
	}
	return nil
}

type pairTotals struct {
	exchange  string
	pair      string
	buys      int
	sells     int
	buyQuote  decimal.Decimal
	sellQuote decimal.Decimal
	fees      decimal.Decimal
}

func writeSummarySheet(fx *excelize.File, sheet string, rows []Row, headerStyle int) error {
	fx.SetColWidth(sheet, "A", "B", 12)
	fx.SetColWidth(sheet, "E", "H", 14)

	headers := []string{"Exchange", "Pair", "Buys", "Sells", "Buy Volume", "Sell Volume", "Fees", "Net"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, headerStyle)
	}

	byPair := make(map[string]*pairTotals)
	for _, r := range rows {
		key := r.Exchange + "|" + r.Pair
		pt, ok := byPair[key]
		if !ok {
			pt = &pairTotals{exchange: r.Exchange, pair: r.Pair}
			byPair[key] = pt
		}
		pt.fees = pt.fees.Add(r.feeInQuote())
		switch r.Side {
		case "buy":
			pt.buys++
			pt.buyQuote = pt.buyQuote.Add(r.QuoteValue())
		case "sell":
			pt.sells++
			pt.sellQuote = pt.sellQuote.Add(r.QuoteValue())
		}
	}

	keys := make([]string, 0, len(byPair))
	for k := range byPair {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for n, k := range keys {
		pt := byPair[k]
		net := pt.sellQuote.Sub(pt.buyQuote).Sub(pt.fees)
		values := []interface{}{
			pt.exchange,
			pt.pair,
			pt.buys,
			pt.sells,
			toFloat(pt.buyQuote),
			toFloat(pt.sellQuote),
			toFloat(pt.fees),
			toFloat(net),
		}
		for i, v := range values {
			cell, _ := excelize.CoordinatesToCellName(i+1, n+2)
			fx.SetCellValue(sheet, cell, v)
		}
	}
	return nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
