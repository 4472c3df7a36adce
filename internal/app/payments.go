package app

import (
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/gateway"
	"github.com/xenking/kart-checkout/internal/gateway/razorpay"
	"github.com/xenking/kart-checkout/internal/gateway/stripe"
)

// newPayments registers every provider that has credentials configured.
func newPayments(
	cfg *Config,
	lg *zap.Logger,
	catalog payment.Catalog,
	coupons payment.CouponValidator,
) (*payment.Broker, []payment.Verifier) {
	guardCfg := gateway.Config{
		Timeout:  cfg.Gateway.Timeout,
		Failures: cfg.Gateway.BreakerFailures,
		Cooldown: cfg.Gateway.BreakerCooldown,
	}

	var (
		gateways  []payment.Gateway
		verifiers []payment.Verifier
	)
	if cfg.Stripe.SecretKey != "" {
		guard := gateway.NewGuard(payment.ProviderStripe, guardCfg, stripe.Transient, lg.Named("stripe"))
		client := stripe.New(stripe.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
		}, guard)
		gateways = append(gateways, client)
		verifiers = append(verifiers, payment.NewStatusVerifier(client))
	}
	if cfg.Razorpay.KeyID != "" && cfg.Razorpay.KeySecret != "" {
		guard := gateway.NewGuard(payment.ProviderRazorpay, guardCfg, razorpay.Transient, lg.Named("razorpay"))
		client := razorpay.New(razorpay.Config{
			KeyID:     cfg.Razorpay.KeyID,
			KeySecret: cfg.Razorpay.KeySecret,
		}, guard)
		gateways = append(gateways, client)
		verifiers = append(verifiers, payment.NewSignatureVerifier([]byte(cfg.Razorpay.KeySecret), client))
	}

	return payment.NewBroker(cfg.Checkout.Currency, catalog, coupons, gateways...), verifiers
}
