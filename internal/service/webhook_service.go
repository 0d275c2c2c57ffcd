package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/haatos/devflow/internal/store"
	"github.com/haatos/devflow/internal/util"
)

// WebhookRequest is one inbound provider call before verification. Signature
// carries the provider's authenticity header value; for Bitbucket the path
// token is the only secret.
type WebhookRequest struct {
	Provider  store.WebhookProvider
	Token     string
	Event     string
	Signature string
	Body      []byte
}

// PushTrigger is the canonical, provider-independent shape of a push event.
type PushTrigger struct {
	Branch        string
	CommitHash    string
	CommitMessage string
	Pusher        string
}

// DeliveryOutcome reports what happened to one webhook delivery. Deployment
// is non-nil only when the push was accepted and a deployment was created.
type DeliveryOutcome struct {
	Delivery   *store.WebhookDelivery
	Deployment *store.Deployment
	Ignored    bool
	Reason     string
}

type WebhookServicer interface {
	ProcessDelivery(ctx context.Context, req *WebhookRequest) (*DeliveryOutcome, error)
	ListProjectDeliveries(ctx context.Context, projectID int64) ([]store.WebhookDelivery, error)
}

type WebhookService struct {
	projectStore      store.ProjectStore
	webhookStore      store.WebhookStore
	deploymentService DeploymentServicer
	queue             Enqueuer
}

func NewWebhookService(
	ps store.ProjectStore,
	ws store.WebhookStore,
	ds DeploymentServicer,
	queue Enqueuer,
) *WebhookService {
	return &WebhookService{
		projectStore:      ps,
		webhookStore:      ws,
		deploymentService: ds,
		queue:             queue,
	}
}

// ProcessDelivery runs the full delivery lifecycle: token lookup, authenticity
// verification, auto-deploy and event gates, payload normalization and
// deployment creation. Exactly one audit row is written per call, whatever
// the outcome.
func (s *WebhookService) ProcessDelivery(
	ctx context.Context,
	req *WebhookRequest,
) (*DeliveryOutcome, error) {
	deliveryID := uuid.NewString()

	project, err := s.projectStore.ReadProjectByWebhookToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			delivery, _ := s.webhookStore.CreateDelivery(ctx, deliveryID, nil, req.Provider)
			s.finishDelivery(ctx, deliveryID, store.DeliveryRejected,
				req.Event, false, util.AsPtr("unknown webhook token"), nil)
			return &DeliveryOutcome{Delivery: delivery},
				NotFoundError{Message: "unknown webhook token"}
		}
		return nil, err
	}

	delivery, err := s.webhookStore.CreateDelivery(
		ctx, deliveryID, &project.ProjectID, req.Provider,
	)
	if err != nil {
		return nil, err
	}
	outcome := &DeliveryOutcome{Delivery: delivery}

	if project.WebhookProvider == nil || *project.WebhookProvider != req.Provider {
		s.finishDelivery(ctx, deliveryID, store.DeliveryRejected,
			req.Event, false, util.AsPtr("provider mismatch"), nil)
		return outcome, AuthenticationError{Message: "webhook provider mismatch"}
	}

	if err := s.verify(project, req); err != nil {
		s.finishDelivery(ctx, deliveryID, store.DeliveryRejected,
			req.Event, false, util.AsPtr(err.Error()), nil)
		return outcome, err
	}
	if err := s.webhookStore.UpdateDeliveryStatus(
		ctx, deliveryID, store.DeliveryVerified,
		util.AsPtr(req.Event), false, nil, nil,
	); err != nil {
		return nil, err
	}

	if !project.AutoDeploy {
		s.finishDelivery(ctx, deliveryID, store.DeliveryRejected,
			req.Event, false, util.AsPtr("auto deploy disabled"), nil)
		return outcome, AutoDeployDisabledError{Slug: project.Slug}
	}

	if !isPushEvent(req.Provider, req.Event) {
		reason := fmt.Sprintf("ignored event '%s'", req.Event)
		s.finishDelivery(ctx, deliveryID, store.DeliveryVerified,
			req.Event, false, &reason, nil)
		outcome.Ignored = true
		outcome.Reason = reason
		return outcome, nil
	}

	trigger, err := normalizePayload(req.Provider, req.Body)
	if err != nil {
		s.finishDelivery(ctx, deliveryID, store.DeliveryFailed,
			req.Event, false, util.AsPtr(err.Error()), nil)
		return outcome, err
	}

	if trigger.Branch != project.Branch {
		reason := fmt.Sprintf(
			"push to branch '%s' ignored, project deploys '%s'",
			trigger.Branch, project.Branch,
		)
		s.finishDelivery(ctx, deliveryID, store.DeliveryVerified,
			req.Event, false, &reason, nil)
		outcome.Ignored = true
		outcome.Reason = reason
		return outcome, nil
	}

	deployment, err := s.deploymentService.CreateDeployment(
		ctx,
		project,
		trigger.Branch,
		util.AsPtr(trigger.CommitHash),
		util.AsPtr(trigger.CommitMessage),
		store.TriggerWebhook,
		nil,
	)
	if err != nil {
		s.finishDelivery(ctx, deliveryID, store.DeliveryFailed,
			req.Event, false, util.AsPtr(err.Error()), nil)
		return outcome, err
	}

	if err := s.queue.Enqueue(deployment); err != nil {
		if failErr := s.deploymentService.FailPending(
			ctx, deployment, err.Error(),
		); failErr != nil {
			log.Printf("err failing unqueued deployment %d: %+v\n",
				deployment.DeploymentID, failErr)
		}
		s.finishDelivery(ctx, deliveryID, store.DeliveryFailed,
			req.Event, false, util.AsPtr(err.Error()), &deployment.DeploymentID)
		return outcome, err
	}

	s.finishDelivery(ctx, deliveryID, store.DeliveryProcessed,
		req.Event, true, nil, &deployment.DeploymentID)
	outcome.Deployment = deployment
	return outcome, nil
}

func (s *WebhookService) ListProjectDeliveries(
	ctx context.Context,
	projectID int64,
) ([]store.WebhookDelivery, error) {
	return s.webhookStore.ListProjectDeliveries(ctx, projectID, 100)
}

func (s *WebhookService) finishDelivery(
	ctx context.Context,
	deliveryID string,
	status store.DeliveryStatus,
	event string,
	processed bool,
	errorDetail *string,
	deploymentID *int64,
) {
	var eventType *string
	if event != "" {
		eventType = &event
	}
	if err := s.webhookStore.UpdateDeliveryStatus(
		ctx, deliveryID, status, eventType, processed, errorDetail, deploymentID,
	); err != nil {
		log.Printf("err updating webhook delivery %s: %+v\n", deliveryID, err)
	}
}

// verify checks the provider's authenticity mechanism with constant-time
// comparisons.
func (s *WebhookService) verify(project *store.Project, req *WebhookRequest) error {
	switch req.Provider {
	case store.ProviderGitHub:
		if project.WebhookSecret == nil {
			return AuthenticationError{Message: "webhook secret not configured"}
		}
		mac := hmac.New(sha256.New, []byte(*project.WebhookSecret))
		mac.Write(req.Body)
		expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(expected), []byte(req.Signature)) {
			return AuthenticationError{Message: "invalid webhook signature"}
		}
	case store.ProviderGitLab:
		if project.WebhookSecret == nil {
			return AuthenticationError{Message: "webhook secret not configured"}
		}
		if subtle.ConstantTimeCompare(
			[]byte(*project.WebhookSecret), []byte(req.Signature),
		) != 1 {
			return AuthenticationError{Message: "invalid webhook token"}
		}
	case store.ProviderBitbucket:
		// the path token matched on lookup, no additional secret
	default:
		return AuthenticationError{Message: "unsupported webhook provider"}
	}
	return nil
}

func isPushEvent(provider store.WebhookProvider, event string) bool {
	switch provider {
	case store.ProviderGitHub:
		return event == "push"
	case store.ProviderGitLab:
		return event == "Push Hook"
	case store.ProviderBitbucket:
		return event == "repo:push"
	}
	return false
}

type githubPushPayload struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	HeadCommit *struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"head_commit"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
}

type gitlabPushPayload struct {
	ObjectKind  string `json:"object_kind"`
	Ref         string `json:"ref"`
	CheckoutSHA string `json:"checkout_sha"`
	UserName    string `json:"user_name"`
	Commits     []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"commits"`
}

type bitbucketPushPayload struct {
	Push struct {
		Changes []struct {
			New struct {
				Name   string `json:"name"`
				Target struct {
					Hash    string `json:"hash"`
					Message string `json:"message"`
				} `json:"target"`
			} `json:"new"`
		} `json:"changes"`
	} `json:"push"`
	Actor struct {
		DisplayName string `json:"display_name"`
	} `json:"actor"`
}

// normalizePayload maps a provider push payload onto the canonical trigger.
func normalizePayload(
	provider store.WebhookProvider,
	body []byte,
) (*PushTrigger, error) {
	switch provider {
	case store.ProviderGitHub:
		p := new(githubPushPayload)
		if err := json.Unmarshal(body, p); err != nil {
			return nil, ValidationError{Message: "malformed github payload"}
		}
		if p.Ref == "" || p.After == "" {
			return nil, ValidationError{Message: "github payload missing ref or after"}
		}
		t := &PushTrigger{
			Branch:     util.TrimRefsPrefix(p.Ref),
			CommitHash: p.After,
			Pusher:     p.Pusher.Name,
		}
		if p.HeadCommit != nil {
			t.CommitMessage = p.HeadCommit.Message
		}
		return t, nil
	case store.ProviderGitLab:
		p := new(gitlabPushPayload)
		if err := json.Unmarshal(body, p); err != nil {
			return nil, ValidationError{Message: "malformed gitlab payload"}
		}
		if p.ObjectKind != "push" {
			return nil, ValidationError{
				Message: fmt.Sprintf("unexpected gitlab object_kind '%s'", p.ObjectKind),
			}
		}
		if p.Ref == "" || p.CheckoutSHA == "" {
			return nil, ValidationError{Message: "gitlab payload missing ref or checkout_sha"}
		}
		t := &PushTrigger{
			Branch:     util.TrimRefsPrefix(p.Ref),
			CommitHash: p.CheckoutSHA,
			Pusher:     p.UserName,
		}
		if len(p.Commits) > 0 {
			t.CommitMessage = strings.TrimSpace(p.Commits[len(p.Commits)-1].Message)
		}
		return t, nil
	case store.ProviderBitbucket:
		p := new(bitbucketPushPayload)
		if err := json.Unmarshal(body, p); err != nil {
			return nil, ValidationError{Message: "malformed bitbucket payload"}
		}
		if len(p.Push.Changes) == 0 {
			return nil, ValidationError{Message: "bitbucket payload has no changes"}
		}
		change := p.Push.Changes[0].New
		if change.Name == "" || change.Target.Hash == "" {
			return nil, ValidationError{Message: "bitbucket payload missing branch or hash"}
		}
		return &PushTrigger{
			Branch:        change.Name,
			CommitHash:    change.Target.Hash,
			CommitMessage: strings.TrimSpace(change.Target.Message),
			Pusher:        p.Actor.DisplayName,
		}, nil
	}
	return nil, ValidationError{
		Message: fmt.Sprintf("unsupported webhook provider '%s'", provider),
	}
}
