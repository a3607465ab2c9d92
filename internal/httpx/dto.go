package httpx

import "github.com/oakline/storefront/internal/lookup"

type CheckoutRequest struct {
	Items    []CheckoutItemDTO `json:"items"`
	Customer CustomerDTO       `json:"customer"`
	Billing  *AddressDTO       `json:"billing_address,omitempty"`
}

type CheckoutItemDTO struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Variant   string `json:"variant,omitempty"`
	UnitPrice int64  `json:"unit_price"` // minor units
	Quantity  int    `json:"quantity"`
	ImageURL  string `json:"image_url,omitempty"`
}

type CustomerDTO struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type AddressDTO struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type CheckoutResponse struct {
	RedirectURL string `json:"redirect_url"`
	OrderCode   string `json:"order_code"`
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

// TrackResponse embeds the lookup projection directly: it is already shaped
// as the public view.
type TrackResponse = lookup.Projection

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
