package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/app"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/logger"
)

func main() {
	log, err := logger.New(logger.DefaultConfig())
	if err != nil {
		logrus.WithError(err).Fatal("failed to init logger")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpointOverride})
	if err != nil {
		log.WithError(err).Fatal("failed to init aws clients")
	}

	a := app.New(cfg, clients, log)
	defer a.Close()

	// RUN_LOCAL simulates a single SQS event, body from LOCAL_SQS_BODY.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"status_changed","order_id":"local-order-1"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local-1", Body: body}}}
		resp, err := a.Processor.HandleSQS(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.WithError(err).WithField("failures", len(resp.BatchItemFailures)).Fatal("local handler failed")
		}
		return
	}

	lambda.Start(a.Processor.HandleSQS)
}
