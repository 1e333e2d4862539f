// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic  SecurityLevel = iota // No authentication
	SecurityWebhook                      // Gateway signature checked by the handler
	SecurityAccess                       // Access token required
)

// Route names registered on the HTTP router.
const (
	RouteHealth            = "health"
	RouteMetrics           = "metrics"
	RouteGatewayWebhook    = "gateway-webhook"
	RouteRequestRental     = "request-rental"
	RouteListRentals       = "list-rentals"
	RouteGetRental         = "get-rental"
	RouteConfirmRental     = "confirm-rental"
	RoutePickupRental      = "pickup-rental"
	RouteReturnRental      = "return-rental"
	RouteCancelRental      = "cancel-rental"
	RouteCheckout          = "checkout"
	RouteListPayments      = "list-payments"
	RoutePaymentAudit      = "payment-audit"
	RouteWaivePenalty      = "waive-penalty"
	RouteWaiveFullPenalty  = "waive-full-penalty"
	RoutePenaltyHistory    = "penalty-history"
	RouteRunReconciliation = "run-reconciliation"
	RouteDetectLateReturns = "detect-late-returns"
)

// EndpointSecurityConfig maps route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Public
	RouteHealth:  SecurityPublic,
	RouteMetrics: SecurityPublic,

	// Gateway notifications carry their own signature
	RouteGatewayWebhook: SecurityWebhook,

	// Rentals - Access Protected (ownership and admin checks happen in the services)
	RouteRequestRental: SecurityAccess,
	RouteListRentals:   SecurityAccess,
	RouteGetRental:     SecurityAccess,
	RouteConfirmRental: SecurityAccess,
	RoutePickupRental:  SecurityAccess,
	RouteReturnRental:  SecurityAccess,
	RouteCancelRental:  SecurityAccess,
	RouteCheckout:      SecurityAccess,
	RouteListPayments:  SecurityAccess,
	RoutePaymentAudit:  SecurityAccess,

	// Penalties - Access Protected
	RouteWaivePenalty:     SecurityAccess,
	RouteWaiveFullPenalty: SecurityAccess,
	RoutePenaltyHistory:   SecurityAccess,

	// Operator triggers - Access Protected
	RouteRunReconciliation: SecurityAccess,
	RouteDetectLateReturns: SecurityAccess,
}

// GetSecurityLevel returns the security level for a given route
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest security for unknown endpoints
	return SecurityAccess
}
