// Package receipt renders orders into printer markup.
package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chaz8081/bleprint/internal/escpos"
	"github.com/shopspring/decimal"
)

// Order is a customer order to print.
type Order struct {
	Customer string     `json:"customer"`
	PlacedAt time.Time  `json:"placedAt"`
	Address  string     `json:"address,omitempty"`
	DineIn   bool       `json:"dineIn"`
	Table    string     `json:"table,omitempty"`
	Items    []LineItem `json:"items"`
	Notes    string     `json:"notes,omitempty"`
}

// LineItem is one ordered product.
type LineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Options   []string        `json:"options,omitempty"`
}

// Amount is the line total.
func (li LineItem) Amount() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Total sums all line amounts.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, li := range o.Items {
		total = total.Add(li.Amount())
	}
	return total
}

// Validate checks that the order can be printed.
func (o Order) Validate() error {
	if len(o.Items) == 0 {
		return errors.New("receipt: order has no items")
	}
	for i, li := range o.Items {
		if strings.TrimSpace(li.Name) == "" {
			return fmt.Errorf("receipt: item %d has no name", i+1)
		}
		if li.Quantity <= 0 {
			return fmt.Errorf("receipt: item %q has quantity %d", li.Name, li.Quantity)
		}
		if li.UnitPrice.IsNegative() {
			return fmt.Errorf("receipt: item %q has a negative price", li.Name)
		}
	}
	return nil
}

// Options controls the receipt layout.
type Options struct {
	Width    int // characters per line
	Header   string
	Footer   string
	Currency string
}

// DefaultOptions fits 58mm paper.
func DefaultOptions() Options {
	return Options{Width: 32, Header: "ORDER", Footer: "Thank you!", Currency: "$"}
}

const timeLayout = "2006-01-02 15:04"

// Render produces the markup for order. Text from the order is copied
// literally.
func Render(order Order, opts Options) string {
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	header := opts.Header
	if header == "" {
		header = DefaultOptions().Header
	}
	rule := strings.Repeat("-", opts.Width)

	var b strings.Builder
	center := func(s string) { b.WriteString(escpos.TagCenter + s + "\n") }
	left := func(s string) { b.WriteString(escpos.TagLeft + s + "\n") }

	center(escpos.TagFontBig + header + escpos.TagFontClose)
	if order.Customer != "" {
		center(escpos.TagBoldOpen + order.Customer + escpos.TagBoldClose)
	}
	if !order.PlacedAt.IsZero() {
		center(order.PlacedAt.Format(timeLayout))
	}

	switch {
	case order.DineIn && order.Table != "":
		left("Dine-in, table " + order.Table)
	case order.DineIn:
		left("Dine-in")
	case order.Address != "":
		left("Delivery: " + order.Address)
	}

	left(rule)
	for _, li := range order.Items {
		left(columns(fmt.Sprintf("%dx %s", li.Quantity, li.Name), opts.Currency+li.Amount().StringFixed(2), opts.Width))
		for _, opt := range li.Options {
			left("  + " + opt)
		}
	}
	left(rule)
	left(escpos.TagBoldOpen + columns("TOTAL", opts.Currency+order.Total().StringFixed(2), opts.Width) + escpos.TagBoldClose)

	if order.Notes != "" {
		left("Notes: " + order.Notes)
	}
	if opts.Footer != "" {
		center(opts.Footer)
	}
	return b.String()
}

// columns left-aligns l and right-aligns r within width, truncating l when
// both do not fit.
func columns(l, r string, width int) string {
	room := width - utf8.RuneCountInString(r) - 1
	if room < 1 {
		return l + " " + r
	}
	if utf8.RuneCountInString(l) > room {
		l = string([]rune(l)[:room])
	}
	gap := width - utf8.RuneCountInString(l) - utf8.RuneCountInString(r)
	return l + strings.Repeat(" ", gap) + r
}
