package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"github.com/vasiliy-maslov/order-lifecycle/internal/order"
	"github.com/vasiliy-maslov/order-lifecycle/internal/settings"
)

const (
	metadataOrderID    = "order_id"
	signatureHeader    = "Stripe-Signature"
	minorUnitsExponent = 2
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	Currency      string
	// Settings, when set, may override APIKey through payment_access_token.
	Settings SettingsReader
	Backends *stripe.Backends

	newIntentAPI func(key string) stripeIntentAPI
}

// StripeGateway implements Gateway with Stripe PaymentIntents. The API key is
// resolved on every call so credential changes apply without a restart.
type StripeGateway struct {
	apiKey        string
	webhookSecret string
	currency      string
	settings      SettingsReader
	newIntentAPI  func(key string) stripeIntentAPI
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	newAPI := cfg.newIntentAPI
	if newAPI == nil {
		backends := cfg.Backends
		newAPI = func(key string) stripeIntentAPI {
			return client.New(key, backends).PaymentIntents
		}
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "brl"
	}
	return &StripeGateway{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		currency:      currency,
		settings:      cfg.Settings,
		newIntentAPI:  newAPI,
	}
}

func (g *StripeGateway) intents(ctx context.Context) (stripeIntentAPI, error) {
	key := g.apiKey
	if g.settings != nil {
		override, err := g.settings.Get(ctx, settings.KeyPaymentAccessToken)
		if err != nil {
			return nil, fmt.Errorf("stripe: failed to read access token: %w", err)
		}
		if v := strings.TrimSpace(override); v != "" {
			key = v
		}
	}
	if key == "" {
		return nil, ErrGatewayNotConfigured
	}
	return g.newIntentAPI(key), nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, reference string) (Intent, error) {
	if !amount.IsPositive() {
		return Intent{}, fmt.Errorf("%w: payment amount must be positive, got %s", order.ErrValidation, amount.String())
	}
	api, err := g.intents(ctx)
	if err != nil {
		return Intent{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount.Shift(minorUnitsExponent).Round(0).IntPart()),
		Currency: stripe.String(g.currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{metadataOrderID: reference},
	}
	params.Context = ctx
	params.SetIdempotencyKey("order-intent-" + reference)

	pi, err := api.New(params)
	if err != nil {
		log.Error().Err(err).Str("reference", reference).Msg("stripe: failed to create payment intent")
		return Intent{}, fmt.Errorf("%w: create payment intent: %w", ErrGateway, err)
	}

	log.Info().Str("intent_id", pi.ID).Str("reference", reference).Msg("stripe: payment intent created")
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: intentStatus(pi)}, nil
}

func (g *StripeGateway) GetStatus(ctx context.Context, intentID string) (Payment, error) {
	api, err := g.intents(ctx)
	if err != nil {
		return Payment{}, err
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := api.Get(intentID, params)
	if err != nil {
		return Payment{}, fmt.Errorf("%w: get payment intent %s: %w", ErrGateway, intentID, err)
	}
	return paymentFromIntent(pi), nil
}

// DecodeCallback verifies the webhook signature when a secret is configured.
// Without a secret the event body is not trusted: the referenced intent is
// fetched again from the API.
func (g *StripeGateway) DecodeCallback(ctx context.Context, payload []byte, header http.Header) (Callback, error) {
	var (
		ev       stripe.Event
		verified bool
	)
	if g.webhookSecret != "" {
		var err error
		ev, err = webhook.ConstructEventWithOptions(payload, header.Get(signatureHeader), g.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return Callback{}, fmt.Errorf("%w: %w", ErrInvalidCallback, err)
		}
		verified = true
	} else if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn().Err(err).Msg("stripe: ignoring malformed callback payload")
		return Callback{}, nil
	}

	eventType := string(ev.Type)
	if !strings.HasPrefix(eventType, "payment_intent.") || ev.Data == nil {
		return Callback{EventType: eventType}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil || pi.ID == "" {
		log.Warn().Err(err).Str("event_type", eventType).Msg("stripe: callback without a payment intent")
		return Callback{EventType: eventType}, nil
	}

	if verified {
		return Callback{Known: true, EventType: eventType, Payment: paymentFromIntent(&pi)}, nil
	}

	p, err := g.GetStatus(ctx, pi.ID)
	if err != nil {
		return Callback{}, err
	}
	return Callback{Known: true, EventType: eventType, Payment: p}, nil
}

func intentStatus(pi *stripe.PaymentIntent) Status {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return StatusDeclined
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			return StatusDeclined
		}
	}
	return StatusPending
}

func intentMethod(pi *stripe.PaymentIntent) order.PaymentMethod {
	types := pi.PaymentMethodTypes
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		types = []string{string(pi.PaymentMethod.Type)}
	}
	if len(types) != 1 {
		return order.MethodOnline
	}
	switch types[0] {
	case "pix":
		return order.MethodPix
	case "card":
		return order.MethodCard
	}
	return order.MethodOnline
}

func paymentFromIntent(pi *stripe.PaymentIntent) Payment {
	p := Payment{
		IntentID: pi.ID,
		Status:   intentStatus(pi),
		Method:   intentMethod(pi),
	}
	if id, err := uuid.FromString(pi.Metadata[metadataOrderID]); err == nil {
		p.OrderID = id
	}
	return p
}
