package render

import (
	"errors"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/valkyrie/internal/billing/domain"
)

// Document is everything printed on an invoice PDF.
type Document struct {
	InvoiceNumber string
	Period        string
	Status        string
	Currency      string
	IssueDate     string
	DueDate       string
	PaidDate      string
	PartnerName   string
	PartnerEmail  string
	Total         decimal.Decimal
	Lines         []billingdomain.LineItem
}

var ErrEmptyInvoiceNumber = errors.New("invoice_number_required")

func Invoice(doc Document) ([]byte, error) {
	if doc.InvoiceNumber == "" {
		return nil, ErrEmptyInvoiceNumber
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Valkyrie", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Invoice", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Service period: "+doc.Period, props.Text{Top: 4}),
			text.New("Date of issue: "+orDash(doc.IssueDate), props.Text{Top: 8}),
			text.New("Date due: "+orDash(doc.DueDate), props.Text{Top: 12}),
			text.New("Status: "+doc.Status, props.Text{Top: 16}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(doc.PartnerName, props.Text{Top: 5, Align: align.Right}),
			text.New(doc.PartnerEmail, props.Text{Top: 9, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	for _, item := range doc.Lines {
		m.AddRow(8,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity.String(), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice.String(), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount.StringFixed(2), props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, doc.Currency+" "+doc.Total.StringFixed(2), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	if doc.PaidDate != "" {
		m.AddRow(8,
			col.New(8),
			text.NewCol(4, "Paid on "+doc.PaidDate, props.Text{Size: 9, Align: align.Right}),
		)
	}

	out, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return out.GetBytes(), nil
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
