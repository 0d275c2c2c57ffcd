package handler

import (
	"io"
	"net/http"

	"github.com/haatos/devflow/internal"
	"github.com/haatos/devflow/internal/service"
	"github.com/haatos/devflow/internal/store"
	"github.com/labstack/echo/v4"
)

// Maximum accepted webhook payload size. Providers send push payloads well
// under this.
const maxWebhookBodyBytes = 1 << 20

func SetupWebhookRoutes(g *echo.Group, webhookService service.WebhookServicer) {
	h := NewWebhookHandler(webhookService)
	g.POST("/webhooks/:provider/:token", h.PostWebhookDelivery)
}

type WebhookHandler struct {
	webhookService service.WebhookServicer
}

func NewWebhookHandler(webhookService service.WebhookServicer) *WebhookHandler {
	return &WebhookHandler{webhookService: webhookService}
}

// PostWebhookDelivery receives one provider call. The provider name and the
// project's webhook token are path segments; signature headers differ per
// provider.
func (h *WebhookHandler) PostWebhookDelivery(c echo.Context) error {
	var params WebhookDeliveryParams
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &params); err != nil {
		return newError(err, http.StatusBadRequest, "invalid webhook path")
	}

	provider := store.WebhookProvider(params.Provider)
	if !provider.Valid() {
		return service.NotFoundError{Message: "unknown webhook provider"}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		return newError(err, http.StatusBadRequest, "unreadable request body")
	}

	req := &service.WebhookRequest{
		Provider:  provider,
		Token:     params.Token,
		Body:      body,
		Event:     eventHeader(c, provider),
		Signature: signatureHeader(c, provider),
	}

	outcome, err := h.webhookService.ProcessDelivery(c.Request().Context(), req)
	if err != nil {
		return err
	}

	if outcome.Ignored {
		return c.JSON(http.StatusOK, map[string]any{
			"status":      "acknowledged",
			"delivery_id": outcome.Delivery.DeliveryID,
			"reason":      outcome.Reason,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "processed",
		"delivery_id":   outcome.Delivery.DeliveryID,
		"deployment_id": outcome.Deployment.DeploymentID,
	})
}

func eventHeader(c echo.Context, provider store.WebhookProvider) string {
	switch provider {
	case store.ProviderGitHub:
		return c.Request().Header.Get(internal.GitHubEventHeader)
	case store.ProviderGitLab:
		return c.Request().Header.Get(internal.GitLabEventHeader)
	case store.ProviderBitbucket:
		return c.Request().Header.Get(internal.BitbucketEventHeader)
	}
	return ""
}

// Bitbucket has no signature header; its path token is the only secret.
func signatureHeader(c echo.Context, provider store.WebhookProvider) string {
	switch provider {
	case store.ProviderGitHub:
		return c.Request().Header.Get(internal.GitHubSignatureHeader)
	case store.ProviderGitLab:
		return c.Request().Header.Get(internal.GitLabTokenHeader)
	}
	return ""
}
