package api

import (
	"github.com/mihaimyh/gofulfill/pkg/cart"
	"github.com/mihaimyh/gofulfill/pkg/downloads"
)

// CheckoutRequest is the body of POST /checkout. Items, when present, make
// it a cart checkout; otherwise ProductID names a single product.
type CheckoutRequest struct {
	ProductID string      `json:"productId" validate:"required_without=Items,max=100"`
	Items     []cart.Item `json:"items" validate:"omitempty,max=100,dive"`
	UID       string      `json:"uid" validate:"max=128"`
	Email     string      `json:"email" validate:"omitempty,email,max=254"`
	Level     string      `json:"level" validate:"max=100"`
}

// PortalRequest is the body of POST /portal.
type PortalRequest struct {
	UID       string `json:"uid" validate:"required,max=128"`
	ReturnURL string `json:"returnUrl" validate:"omitempty,url"`
}

// URLResponse carries a hosted page URL.
type URLResponse struct {
	URL string `json:"url"`
}

// DownloadsResponse lists the links for a paid session.
type DownloadsResponse struct {
	Downloads []downloads.Link `json:"downloads"`
}

// ErrorBody is the error envelope of interactive endpoints.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
