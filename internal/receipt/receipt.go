// Package receipt renders the order-confirmation email.
package receipt

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"storefront-orders/internal/domain"

	"github.com/shopspring/decimal"
)

type Renderer struct {
	storeName string
	currency  string
	tmpl      *template.Template
}

func NewRenderer(storeName, currencySymbol string) *Renderer {
	r := &Renderer{storeName: storeName, currency: currencySymbol}
	r.tmpl = template.Must(template.New("receipt").Funcs(template.FuncMap{
		"money": r.money,
	}).Parse(receiptHTML))
	return r
}

func (r *Renderer) money(d decimal.Decimal) string {
	return r.currency + d.StringFixed(2)
}

func Subject(o *domain.Order) string {
	return fmt.Sprintf("Order Confirmation - Order #%s", o.ID)
}

type view struct {
	Order        *domain.Order
	Lines        []line
	PaymentLabel string
	StoreName    string
	Date         string
	Year         int
}

type line struct {
	Name      string
	Quantity  int64
	UnitCost  decimal.Decimal
	LineTotal decimal.Decimal
}

func (r *Renderer) Render(o *domain.Order, now time.Time) (string, error) {
	v := view{
		Order:        o,
		PaymentLabel: o.PaymentMethod.Label(),
		StoreName:    r.storeName,
		Date:         now.Format("02 Jan 2006"),
		Year:         now.Year(),
	}
	for _, it := range o.Items {
		v.Lines = append(v.Lines, line{
			Name:      it.ProductName,
			Quantity:  it.Quantity,
			UnitCost:  it.UnitCost,
			LineTotal: it.LineTotal(),
		})
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render receipt for order %s: %w", o.ID, err)
	}
	return buf.String(), nil
}

const receiptHTML = `<!DOCTYPE html>
<html>
<head>
<style>
  body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
  .container { max-width: 600px; margin: 0 auto; padding: 20px; }
  .header { text-align: center; padding: 20px 0; border-bottom: 2px solid #eee; }
  .order-table { width: 100%; border-collapse: collapse; }
  .order-table td, .order-table th { padding: 10px; border-bottom: 1px solid #eee; }
  .summary { margin-top: 20px; text-align: right; }
  .footer { margin-top: 30px; text-align: center; font-size: 12px; color: #777; }
</style>
</head>
<body>
<div class="container">
  <div class="header">
    <h1>Thank you for your order!</h1>
    <p>Order #{{.Order.ID}}</p>
    <p>Date: {{.Date}}</p>
  </div>

  <h2>Order Details</h2>
  <table class="order-table">
    <thead>
      <tr><th style="text-align:left">Product</th><th>Quantity</th><th style="text-align:right">Price</th><th style="text-align:right">Total</th></tr>
    </thead>
    <tbody>
    {{- range .Lines}}
      <tr>
        <td>{{.Name}}</td>
        <td style="text-align:center">{{.Quantity}}</td>
        <td style="text-align:right">{{money .UnitCost}}</td>
        <td style="text-align:right">{{money .LineTotal}}</td>
      </tr>
    {{- end}}
    </tbody>
  </table>
  <div class="summary"><p><strong>Total Amount: {{money .Order.TotalAmount}}</strong></p></div>

  <h2>Shipping Information</h2>
  {{with .Order.ShippingInfo}}
  <p>
    {{.Name}}<br>
    {{.Address}}{{if .City}}, {{.City}}{{end}}<br>
    {{if .State}}{{.State}}{{end}}{{if .ZipCode}}, {{.ZipCode}}{{end}}<br>
    {{.Country}}<br>
    Phone: {{.Phone}}
  </p>
  {{end}}

  <h2>Payment Information</h2>
  <p><strong>Payment Method:</strong> {{.PaymentLabel}}</p>
  <p><strong>Payment Status:</strong> {{.Order.PaymentStatus}}</p>

  <div class="footer">
    <p>If you have any questions about your order, please contact our customer support.</p>
    <p>&copy; {{.Year}} {{.StoreName}}. All rights reserved.</p>
  </div>
</div>
</body>
</html>
`
