package document

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// invoiceTemplate is the printable invoice. The cancellation watermark
// is overlayed when Canceled is set.
var invoiceTemplate = template.Must(template.New("invoice").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="utf-8">
<style>
  body { font-family: sans-serif; margin: 2.5cm; color: #222; }
  h1 { font-size: 20px; }
  table { width: 100%; border-collapse: collapse; margin-top: 1.5em; }
  td, th { padding: 6px 8px; border-bottom: 1px solid #ddd; text-align: left; }
  td.amount, th.amount { text-align: right; }
  .total td { font-weight: bold; border-top: 2px solid #222; }
  .meta { color: #666; font-size: 12px; }
  .watermark {
    position: fixed; top: 40%; left: 10%; font-size: 90px; color: #c00;
    opacity: 0.25; transform: rotate(-25deg);
  }
  .notice { margin-top: 1em; color: #a00; font-weight: bold; }
</style>
</head>
<body>
{{if .Canceled}}<div class="watermark">{{.CanceledLabel}}</div>{{end}}
<h1>{{.Organisation}}</h1>
<p class="meta">Invoice {{.Number}} &middot; {{.Date}}</p>
<p>{{.MemberName}}</p>
{{if .NoticeLabel}}<p class="notice">{{.NoticeLabel}}</p>{{end}}
<table>
  <tr><th>Description</th><th class="amount">Amount</th></tr>
  {{range .Lines}}
  <tr><td>{{.Label}}</td><td class="amount">{{.Amount}}</td></tr>
  {{end}}
  <tr class="total"><td>Total</td><td class="amount">{{.Total}}</td></tr>
  {{if .Paid}}<tr><td>Paid</td><td class="amount">{{.Paid}}</td></tr>{{end}}
  {{if .Missing}}<tr><td>Amount due</td><td class="amount">{{.Missing}}</td></tr>{{end}}
</table>
</body>
</html>
`))

type invoiceLine struct {
	Label  string
	Amount string
}

type invoiceData struct {
	Lang          string
	Organisation  string
	Number        string
	Date          string
	MemberName    string
	Lines         []invoiceLine
	Total         string
	Paid          string
	Missing       string
	Canceled      bool
	CanceledLabel string
	NoticeLabel   string
}

func renderInvoiceHTML(data invoiceData) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// formatAmount renders a decimal for the member's locale with the
// currency code. Display only: the underlying values never leave
// decimal arithmetic.
func formatAmount(d decimal.Decimal, currency, lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	return p.Sprintf("%s %v", currency, number.Decimal(d.InexactFloat64(),
		number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
