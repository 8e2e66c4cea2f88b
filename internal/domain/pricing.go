package domain

// PricedLine is one cart line after offer resolution, carrying the
// effective unit price that feeds the subtotal.
type PricedLine struct {
	ProductID    string
	VariantID    *string
	Quantity     int64
	BasePrice    int64
	SalePrice    int64
	Discount     int64
	OfferID      string
	LineSubtotal int64
}

// DeliveryEta is the quoted delivery window in days for the selected
// shipping method.
type DeliveryEta struct {
	MinDays int
	MaxDays int
}

// PricingSnapshot freezes the price breakdown at order creation. The
// snapshot is stored on the order and never recomputed afterwards, so
// later offer or settings changes cannot alter a placed order.
type PricingSnapshot struct {
	Currency       string
	Subtotal       int64
	ShippingFee    int64
	ShippingMethod string
	DeliveryEta    DeliveryEta
	TaxAmount      int64
	TaxRateBps     int64
	GrandTotal     int64
}
