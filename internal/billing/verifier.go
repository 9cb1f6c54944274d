package billing

import (
	"context"
	"log/slog"
	"strings"

	"zenvoice/internal/types"
)

// VerificationResult is the outcome of checking a transaction reference with
// the gateway. Failed is not an error: an abandoned or declined checkout is
// a normal, reportable outcome.
type VerificationResult struct {
	Succeeded       bool
	GatewayPlanCode string
	AmountMinor     int64
	Reason          string
}

// TransactionVerifier confirms hosted-payment transactions against the
// gateway. It never lets a gateway fault escape as an error: callers always
// get a result, with the failure reason folded into Reason, so the
// subscription stays INACTIVE rather than the request blowing up.
type TransactionVerifier struct {
	client GatewayClient
	logger *slog.Logger
}

// NewTransactionVerifier creates a TransactionVerifier.
func NewTransactionVerifier(client GatewayClient, logger *slog.Logger) *TransactionVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransactionVerifier{client: client, logger: logger}
}

// Verify checks the reference with the gateway and classifies the outcome.
func (v *TransactionVerifier) Verify(ctx context.Context, reference string) VerificationResult {
	if strings.TrimSpace(reference) == "" {
		return VerificationResult{Reason: "transaction reference is required"}
	}

	resp, err := v.client.VerifyTransaction(ctx, reference)
	if err != nil {
		v.logger.WarnContext(ctx, "transaction verification call failed",
			slog.String("reference", reference),
			slog.Any("error", err),
		)
		if types.HasErrorCode(err, types.ErrCodeGatewayRejected) {
			// The gateway answered but does not recognize the reference.
			return VerificationResult{Reason: "transaction could not be verified with the payment provider"}
		}
		return VerificationResult{Reason: "payment provider is unreachable, try again shortly"}
	}

	if resp.Status != "success" {
		v.logger.InfoContext(ctx, "transaction not successful",
			slog.String("reference", reference),
			slog.String("gateway_status", resp.Status),
		)
		return VerificationResult{
			Reason: "payment was not completed (status: " + resp.Status + ")",
		}
	}

	return VerificationResult{
		Succeeded:       true,
		GatewayPlanCode: resp.PlanCode,
		AmountMinor:     resp.Amount,
	}
}
