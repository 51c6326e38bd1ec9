package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/donorledger-backend/pkg/config"
	"github.com/angelmondragon/donorledger-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNothingConfigured = errors.New("pubsub needs a ledger topic or a gateway subscription")
	errNotConnected      = errors.New("pubsub client not initialized")
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

// Client carries ledger events out on the ledger topic and gateway
// confirmations in on the gateway subscription.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// resource is a topic or subscription the process depends on.
type resource struct {
	kind string
	name string
}

// NewClient connects and verifies that every configured topic and
// subscription exists; missing infrastructure fails at boot.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: raw, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project":      projectID,
			"topic":        cfg.LedgerTopic,
			"subscription": cfg.GatewaySubscription,
		}), "pubsub client initialized")
	}
	return c, nil
}

func requiredResources(cfg config.PubSubConfig) []resource {
	var out []resource
	if name := strings.TrimSpace(cfg.LedgerTopic); name != "" {
		out = append(out, resource{kind: kindTopic, name: name})
	}
	if name := strings.TrimSpace(cfg.GatewaySubscription); name != "" {
		out = append(out, resource{kind: kindSubscription, name: name})
	}
	return out
}

// Ping looks up each configured topic and subscription.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotConnected
	}
	resources := requiredResources(c.cfg)
	if len(resources) == 0 {
		return errNothingConfigured
	}
	for _, r := range resources {
		full := c.resourceName(r.kind, r.name)
		var err error
		switch r.kind {
		case kindTopic:
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
		default:
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
		}
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%s does not exist", full)
		}
		if err != nil {
			return fmt.Errorf("checking %s: %w", full, err)
		}
	}
	return nil
}

// GatewaySubscription receives payment confirmations from the card gateway.
func (c *Client) GatewaySubscription() *pubsub.Subscriber {
	full := c.resourceName(kindSubscription, c.cfg.GatewaySubscription)
	if full == "" || c.client == nil {
		return nil
	}
	return c.client.Subscriber(full)
}

// Publisher accepts a topic id or a full "projects/.../topics/..." name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	full := c.resourceName(kindTopic, topic)
	if full == "" || c.client == nil {
		return nil
	}
	return c.client.Publisher(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a short id to projects/<project>/<kind>/<id>. Full
// names pass through unchanged.
func (c *Client) resourceName(kind, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case c == nil || name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/"):
		return name
	case c.projectID == "":
		return ""
	}
	return "projects/" + c.projectID + "/" + kind + "/" + name
}
