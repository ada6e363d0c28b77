package x402shop

// Product defines one purchasable catalog entry.
type Product struct {
	SKU      string `json:"sku"`
	Title    string `json:"title"`
	PriceUSD Amount `json:"price_usd"`
}

// Catalog is the fixed product list a shop sells. It is loaded once at
// construction and shared read-only across requests.
type Catalog []Product

// Product returns the catalog entry for sku, or false when absent.
func (c Catalog) Product(sku string) (Product, bool) {
	for _, p := range c {
		if p.SKU == sku {
			return p, true
		}
	}
	return Product{}, false
}

// CartItem is one sku/quantity pair inside a cart.
type CartItem struct {
	SKU string `json:"sku"`
	Qty int    `json:"qty"`
}

// Cart accumulates items ahead of checkout. Items with the same sku merge
// into one entry rather than duplicate.
type Cart struct {
	ID    string     `json:"cart_id"`
	Items []CartItem `json:"items"`
}

// Empty reports whether the cart holds no items.
func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}
