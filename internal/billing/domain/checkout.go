package domain

// PaymentStatus mirrors the provider's checkout payment status.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

// Metadata keys written on checkout sessions.
const (
	MetadataUserID    = "userId"
	MetadataPackageID = "packageId"
	MetadataCredits   = "credits"
)

// CheckoutRequest asks the provider for a hosted payment page.
type CheckoutRequest struct {
	PriceID    string
	Quantity   int64
	Metadata   map[string]string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the provider view of a payment session.
type CheckoutSession struct {
	ID            string
	URL           string
	PaymentStatus PaymentStatus
	Metadata      map[string]string
}
