package status

import (
	"errors"
	"fmt"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
)

// Status is an order lifecycle state.
type Status string

const (
	Processing Status = "processing"
	Confirmed  Status = "confirmed"
	Packaging  Status = "packaging"
	Shipped    Status = "shipped"
	Delivered  Status = "delivered"
	Cancelled  Status = "cancelled"
	Failed     Status = "failed"
)

// ErrInvalidStatus is returned by Parse for values outside the vocabulary.
var ErrInvalidStatus = errors.New("invalid order status")

// Info is the display and notification copy for a status.
type Info struct {
	Status   Status `json:"status"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	Progress int    `json:"progress"`
	Title    string `json:"title"`
	Message  string `json:"message"`
	Known    bool   `json:"known"`
	// Labels holds the display label per locale; Label is the DefaultLocale entry.
	Labels map[string]string `json:"labels"`
}

const (
	DefaultLocale = "en"
	LocaleBangla  = "bn"
)

// LabelIn returns the label for locale, falling back to Label.
func (i Info) LabelIn(locale string) string {
	if l, ok := i.Labels[locale]; ok {
		return l
	}
	return i.Label
}

var bangla = map[Status]string{
	Processing: "প্রক্রিয়াধীন",
	Confirmed:  "নিশ্চিত করা হয়েছে",
	Packaging:  "প্যাকেজিং চলছে",
	Shipped:    "পাঠানো হয়েছে",
	Delivered:  "ডেলিভারি সম্পন্ন",
	Cancelled:  "বাতিল",
	Failed:     "ব্যর্থ",
}

const unknownBangla = "অজানা"

var ordered = []Status{Processing, Confirmed, Packaging, Shipped, Delivered, Cancelled, Failed}

var table = map[Status]Info{
	Processing: {
		Label: "Processing", Color: "status-processing", Progress: 0,
		Title:   "Order received",
		Message: "We have received your order and it is being processed.",
	},
	Confirmed: {
		Label: "Confirmed", Color: "status-confirmed", Progress: 25,
		Title:   "Order confirmed",
		Message: "Your order has been confirmed.",
	},
	Packaging: {
		Label: "Packaging", Color: "status-packaging", Progress: 50,
		Title:   "Order is being packed",
		Message: "Your products are being carefully packed.",
	},
	Shipped: {
		Label: "Shipped", Color: "status-shipped", Progress: 75,
		Title:   "Order shipped",
		Message: "Your order is on its way.",
	},
	Delivered: {
		Label: "Delivered", Color: "status-delivered", Progress: 100,
		Title:   "Order delivered",
		Message: "Your order has been delivered. Enjoy your skincare!",
	},
	Cancelled: {
		Label: "Cancelled", Color: "status-cancelled", Progress: 0,
		Title:   "Order cancelled",
		Message: "Your order has been cancelled.",
	},
	Failed: {
		Label: "Failed", Color: "status-failed", Progress: 0,
		Title:   "Order failed",
		Message: "There was a problem with your order. Please contact us.",
	},
}

// All returns the vocabulary in lifecycle order.
func All() []Status {
	out := make([]Status, len(ordered))
	copy(out, ordered)
	return out
}

// Valid reports whether s is part of the vocabulary.
func Valid(s string) bool {
	_, ok := table[Status(s)]
	return ok
}

// Parse validates s against the vocabulary. Matching is exact: case and
// surrounding whitespace are not normalised.
func Parse(s string) (Status, error) {
	st := Status(s)
	if _, ok := table[st]; !ok {
		return "", apperr.E(apperr.KindValidation, "status.Parse", fmt.Errorf("%w: %q", ErrInvalidStatus, s))
	}
	return st, nil
}

// Lookup returns display copy for s. Unknown values get a neutral fallback
// naming the raw value instead of an error, since stored data may predate the vocabulary.
func Lookup(s string) Info {
	if info, ok := table[Status(s)]; ok {
		info.Status = Status(s)
		info.Known = true
		info.Labels = map[string]string{DefaultLocale: info.Label, LocaleBangla: bangla[info.Status]}
		return info
	}
	return Info{
		Status:   Status(s),
		Label:    "Unknown",
		Labels:   map[string]string{DefaultLocale: "Unknown", LocaleBangla: unknownBangla},
		Color:    "status-unknown",
		Progress: 0,
		Title:    "Order update",
		Message:  fmt.Sprintf("Your order status is now: %s", s),
	}
}

// Vocabulary returns Info for every status, in lifecycle order.
func Vocabulary() []Info {
	out := make([]Info, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, Lookup(string(s)))
	}
	return out
}
