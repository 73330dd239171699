package order

import "fmt"

func shortID(o *Order) string {
	return o.ID.String()[:8]
}

func receivedMessage(o *Order) string {
	return fmt.Sprintf("Hi %s! We received your order (#%s).\nStatus: awaiting payment\n\nWe will keep you posted here.",
		o.CustomerName, shortID(o))
}

func paymentConfirmedMessage(o *Order) string {
	return fmt.Sprintf("*PAYMENT CONFIRMED*\n\nWe received your payment for order #%s. It is now in the queue.", shortID(o))
}

// statusMessage returns the customer notification for an order that has just
// moved to status. Statuses without a template report false.
func statusMessage(o *Order, status Status) (string, bool) {
	switch status {
	case StatusAwaitingPayment, StatusPending:
		return "", false
	case StatusPreparing:
		return fmt.Sprintf("*ORDER BEING PREPARED*\n\nYour order #%s is being prepared and will be out for delivery soon.", shortID(o)), true
	case StatusOutForDelivery:
		return fmt.Sprintf("*ORDER ON ITS WAY*\n\nGood news! Your order #%s just left for delivery.", shortID(o)), true
	case StatusDelivered:
		return fmt.Sprintf("*ORDER DELIVERED*\n\nYour order #%s was delivered. Thank you!", shortID(o)), true
	case StatusCancelled:
		return fmt.Sprintf("*ORDER CANCELLED*\n\nYour order #%s was cancelled. Reply here if you want to know why or to order again.", shortID(o)), true
	}
	return "", false
}
