package http

import (
	"time"

	"github.com/cartaway/checkout/internal/order/domain"
)

type lineResponse struct {
	ID             int64  `json:"id"`
	ProductID      int64  `json:"product_id"`
	VariantID      *int64 `json:"variant_id,omitempty"`
	Name           string `json:"product_name"`
	SKU            string `json:"product_sku,omitempty"`
	VariantLabel   string `json:"variant_label,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	TotalPrice     string `json:"total_price"`
	TaxAmount      string `json:"tax_amount"`
	DiscountAmount string `json:"discount_amount"`
}

type addressResponse struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type statusEventResponse struct {
	Status    domain.Status `json:"status"`
	Note      string        `json:"note,omitempty"`
	Actor     string        `json:"actor,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type orderResponse struct {
	ID             int64                `json:"id"`
	OrderNumber    string               `json:"order_number"`
	UserID         int64                `json:"user_id"`
	Status         domain.Status        `json:"status"`
	PaymentStatus  domain.PaymentStatus `json:"payment_status"`
	CustomerEmail  string               `json:"customer_email"`
	CustomerName   string               `json:"customer_name"`
	Billing        addressResponse      `json:"billing_address"`
	Shipping       addressResponse      `json:"shipping_address"`
	Subtotal       string               `json:"subtotal"`
	TaxAmount      string               `json:"tax_amount"`
	ShippingAmount string               `json:"shipping_amount"`
	DiscountAmount string               `json:"discount_amount"`
	TotalAmount    string               `json:"total_amount"`
	ShippingMethod string               `json:"shipping_method"`
	EstimatedDays  int                  `json:"estimated_days"`
	TrackingNumber string               `json:"tracking_number,omitempty"`
	Note           string               `json:"note,omitempty"`
	Lines          []lineResponse       `json:"lines"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func toAddressResponse(a domain.Address) addressResponse {
	return addressResponse{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func toStatusEventResponse(e domain.StatusEvent) statusEventResponse {
	return statusEventResponse{
		Status:    e.Status,
		Note:      e.Note,
		Actor:     e.Actor,
		CreatedAt: e.CreatedAt,
	}
}

func toOrderResponse(o domain.Order) orderResponse {
	lines := make([]lineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, lineResponse{
			ID:             l.ID,
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Name:           l.Name,
			SKU:            l.SKU,
			VariantLabel:   l.VariantLabel,
			Quantity:       l.Quantity,
			UnitPrice:      l.UnitPrice.StringFixed(2),
			TotalPrice:     l.TotalPrice.StringFixed(2),
			TaxAmount:      l.TaxAmount.StringFixed(2),
			DiscountAmount: l.DiscountAmount.StringFixed(2),
		})
	}
	return orderResponse{
		ID:             o.ID,
		OrderNumber:    o.Number,
		UserID:         o.UserID,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		CustomerEmail:  o.Customer.Email,
		CustomerName:   o.Customer.FirstName + " " + o.Customer.LastName,
		Billing:        toAddressResponse(o.Billing),
		Shipping:       toAddressResponse(o.Shipping),
		Subtotal:       o.Subtotal.StringFixed(2),
		TaxAmount:      o.TaxAmount.StringFixed(2),
		ShippingAmount: o.ShippingAmount.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		TotalAmount:    o.TotalAmount.StringFixed(2),
		ShippingMethod: o.ShippingMethod,
		EstimatedDays:  o.EstimatedDays,
		TrackingNumber: o.TrackingNumber,
		Note:           o.Note,
		Lines:          lines,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}
