package orders

import (
	"strings"

	"github.com/imrishuroy/go-storefront-orderflow/internal/status"
)

const (
	// GuestUserID marks orders placed without an account.
	GuestUserID = "guest_user"

	// NotAvailable fills optional text fields left blank at checkout.
	NotAvailable = "N/A"

	// dateLayout matches what browsers produce for Date.toISOString.
	dateLayout = "2006-01-02T15:04:05.000Z07:00"
)

// LineItem is a cart entry; its shape belongs to the storefront.
type LineItem map[string]interface{}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID              string        `dynamodbav:"order_id" json:"orderId"` // PK
	Status               status.Status `dynamodbav:"status" json:"status"`
	CustomerName         string        `dynamodbav:"customer_name" json:"customerName"`
	PhoneNumber          string        `dynamodbav:"phone_number" json:"phoneNumber"`
	Address              string        `dynamodbav:"address" json:"address"`
	DeliveryLocation     string        `dynamodbav:"delivery_location" json:"deliveryLocation"`
	DeliveryNote         string        `dynamodbav:"delivery_note" json:"deliveryNote"`
	OutsideDhakaLocation string        `dynamodbav:"outside_dhaka_location" json:"outsideDhakaLocation"`
	PaymentNumber        string        `dynamodbav:"payment_number" json:"paymentNumber"`
	TransactionID        string        `dynamodbav:"transaction_id" json:"transactionId"`
	CartItems            []LineItem    `dynamodbav:"cart_items" json:"cartItems"`
	SubTotal             float64       `dynamodbav:"sub_total" json:"subTotal"`
	DeliveryFee          float64       `dynamodbav:"delivery_fee" json:"deliveryFee"`
	TotalAmount          float64       `dynamodbav:"total_amount" json:"totalAmount"`
	OrderDate            string        `dynamodbav:"order_date" json:"orderDate"`
	StatusUpdatedAt      string        `dynamodbav:"status_updated_at,omitempty" json:"statusUpdatedAt,omitempty"`
	UserID               string        `dynamodbav:"user_id,omitempty" json:"userId,omitempty"`       // GSI user_id-index
	UserEmail            string        `dynamodbav:"user_email,omitempty" json:"userEmail,omitempty"` // GSI user_email-index, legacy
	PlayerID             string        `dynamodbav:"onesignal_player_id,omitempty" json:"oneSignalPlayerId,omitempty"`
}

// IsGuest reports whether the order has no owning account.
func (o Order) IsGuest() bool {
	return o.UserID == "" || o.UserID == GuestUserID
}

// CreateInput is what checkout hands to Store.Create.
type CreateInput struct {
	CustomerName         string
	PhoneNumber          string
	Address              string
	DeliveryLocation     string
	DeliveryNote         string
	OutsideDhakaLocation string
	PaymentNumber        string
	TransactionID        string
	CartItems            []LineItem
	SubTotal             float64
	DeliveryFee          float64
	TotalAmount          float64

	// UserID and UserEmail identify the account; empty or GuestUserID means guest.
	UserID    string
	UserEmail string
	PlayerID  string

	// GuestToken identifies the guest device whose "my orders" list gets the new id.
	GuestToken string
}

func orNA(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return NotAvailable
	}
	return s
}
