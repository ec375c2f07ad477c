package validation

import (
	"github.com/imrishuroy/go-storefront-orderflow/internal/broadcast"
	"github.com/imrishuroy/go-storefront-orderflow/internal/orders"
)

// CreateOrderRequest is the payload for POST /orders. Missing contact fields
// are stored as "N/A" by the order store; only the cart and amounts are checked.
type CreateOrderRequest struct {
	CustomerName         string            `json:"customerName"`
	PhoneNumber          string            `json:"phoneNumber"`
	Address              string            `json:"address"`
	DeliveryLocation     string            `json:"deliveryLocation"`
	DeliveryNote         string            `json:"deliveryNote"`
	OutsideDhakaLocation string            `json:"outsideDhakaLocation"`
	PaymentNumber        string            `json:"paymentNumber"`
	TransactionID        string            `json:"transactionId"`
	CartItems            []orders.LineItem `json:"cartItems" validate:"required,min=1"`
	SubTotal             float64           `json:"subTotal" validate:"gte=0"`
	DeliveryFee          float64           `json:"deliveryFee" validate:"gte=0"`
	TotalAmount          float64           `json:"totalAmount" validate:"gte=0"`

	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail" validate:"omitempty,email"`
	PlayerID  string `json:"oneSignalPlayerId"`
}

// Input converts the request for the order store.
func (r CreateOrderRequest) Input(guestToken string) orders.CreateInput {
	return orders.CreateInput{
		CustomerName:         r.CustomerName,
		PhoneNumber:          r.PhoneNumber,
		Address:              r.Address,
		DeliveryLocation:     r.DeliveryLocation,
		DeliveryNote:         r.DeliveryNote,
		OutsideDhakaLocation: r.OutsideDhakaLocation,
		PaymentNumber:        r.PaymentNumber,
		TransactionID:        r.TransactionID,
		CartItems:            r.CartItems,
		SubTotal:             r.SubTotal,
		DeliveryFee:          r.DeliveryFee,
		TotalAmount:          r.TotalAmount,
		UserID:               r.UserID,
		UserEmail:            r.UserEmail,
		PlayerID:             r.PlayerID,
		GuestToken:           guestToken,
	}
}

// UpdateStatusRequest is the payload for PATCH /admin/orders/:id/status
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

// PlayerRequest registers a push handle for an account.
type PlayerRequest struct {
	PlayerID string `json:"playerId" validate:"required"`
}

// BroadcastTarget selects who receives a broadcast.
type BroadcastTarget struct {
	Kind      string   `json:"kind" validate:"required,oneof=all active inactive users"`
	PlayerIDs []string `json:"playerIds" validate:"omitempty,dive,required"`
}

// BroadcastRequest is the payload for POST /admin/broadcasts
type BroadcastRequest struct {
	Kind       string          `json:"kind" validate:"required,oneof=promotion new_arrival discount custom"`
	CustomText string          `json:"customText" validate:"required_if=Kind custom"`
	Target     BroadcastTarget `json:"target"`
}

// Request converts the payload for the broadcaster.
func (r BroadcastRequest) Request() broadcast.Request {
	return broadcast.Request{
		Kind:       broadcast.Kind(r.Kind),
		CustomText: r.CustomText,
		Target: broadcast.Target{
			Kind:      broadcast.TargetKind(r.Target.Kind),
			PlayerIDs: r.Target.PlayerIDs,
		},
	}
}
