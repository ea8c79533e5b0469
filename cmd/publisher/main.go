// Command publisher broadcasts a product change to every running instance, for manual purges
// or backfills.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	domain "github.com/lauragobrightly/ship-ship/internal/domain"
	"github.com/lauragobrightly/ship-ship/internal/platform/auth"
	"github.com/lauragobrightly/ship-ship/internal/platform/config"
	"github.com/lauragobrightly/ship-ship/internal/platform/events"
	"github.com/lauragobrightly/ship-ship/internal/platform/observability"
	"github.com/lauragobrightly/ship-ship/internal/platform/secrets"
	"github.com/lauragobrightly/ship-ship/internal/services"
)

func main() {
	var (
		productID string
		variants  string
		topic     string
		origin    string
		fromStdin bool
		timeout   time.Duration
	)
	flag.StringVar(&productID, "product", "", "product id")
	flag.StringVar(&variants, "variants", "", "comma-separated variant ids")
	flag.StringVar(&topic, "topic", "manual/purge", "topic recorded on the change")
	flag.StringVar(&origin, "origin", "publisher-cli", "origin stamped on the envelope")
	flag.BoolVar(&fromStdin, "stdin", false, "read a product change or product webhook body from stdin")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "publish timeout")
	flag.Parse()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("publisher")

	var stdin io.Reader
	if fromStdin {
		stdin = os.Stdin
	}
	change, err := buildChange(stdin, productID, variants, topic)
	if err != nil {
		logger.Fatal("invalid product change", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fetcher, err := secrets.NewFetcher(ctx, secrets.WithLogger(logger.Named("secrets")), secrets.WithProject(os.Getenv("SHIP_GCP_PROJECT_ID")))
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	signer := auth.NewWebhookVerifier(cfg.Shopify.WebhookSecret)
	publisher, closePublisher, err := newPublisher(ctx, cfg.Events, signer, origin)
	if err != nil {
		logger.Fatal("failed to initialise publisher", zap.Error(err))
	}
	defer closePublisher()

	if err := publisher.Publish(ctx, change); err != nil {
		logger.Fatal("publish failed", zap.Error(err))
	}
	logger.Info("product change published",
		zap.String("product_id", string(change.ProductID)),
		zap.Int("variants", len(change.VariantIDs)),
		zap.String("transport", cfg.Events.Transport))
}

func buildChange(stdin io.Reader, productID, variants, topic string) (domain.ProductChange, error) {
	var change domain.ProductChange
	if stdin != nil {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return domain.ProductChange{}, fmt.Errorf("read stdin: %w", err)
		}
		change, err = services.DecodeProductChange(raw)
		if err != nil {
			return domain.ProductChange{}, err
		}
	} else {
		change.ProductID = domain.ProductID(strings.TrimSpace(productID))
		for _, id := range strings.Split(variants, ",") {
			if id = strings.TrimSpace(id); id != "" {
				change.VariantIDs = append(change.VariantIDs, domain.VariantID(id))
			}
		}
	}
	if change.ProductID == "" {
		return domain.ProductChange{}, errors.New("product id is required")
	}
	if len(change.VariantIDs) == 0 {
		return domain.ProductChange{}, errors.New("at least one variant id is required")
	}
	if change.Topic == "" {
		change.Topic = topic
	}
	// Seal stamps the envelope origin.
	change.Origin = ""
	return change, nil
}

func newPublisher(ctx context.Context, ec config.EventsConfig, signer events.Signer, origin string) (services.ChangePublisher, func(), error) {
	switch ec.Transport {
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, ec.PubSubProject)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(ec.PubSubTopic)
		closeFn := func() {
			topic.Stop()
			_ = client.Close()
		}
		publisher, err := events.NewPubSubPublisher(topic, signer, origin)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		return publisher, closeFn, nil
	case config.TransportSTAN:
		conn, err := events.STANConfig{
			ClusterID: ec.STANClusterID,
			ClientID:  ec.STANClientID + "-cli",
			URL:       ec.STANURL,
		}.Connect()
		if err != nil {
			return nil, nil, err
		}
		publisher, err := events.NewSTANPublisher(conn, ec.STANSubject, signer, origin)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return publisher, func() { _ = conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("events transport %q cannot publish", ec.Transport)
	}
}
