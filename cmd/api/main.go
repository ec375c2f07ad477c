package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/imrishuroy/go-storefront-orderflow/internal/app"
	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/config"
	"github.com/imrishuroy/go-storefront-orderflow/internal/handlers"
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
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	clients, err := aws.NewAWSClients(context.Background(), aws.Settings{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpointOverride})
	if err != nil {
		log.WithError(err).Fatal("failed to init aws clients")
	}

	a := app.New(cfg, clients, log)
	defer a.Close()

	r := handlers.NewRouter(a.Handler())

	// RUN_LOCAL serves plain HTTP for development.
	if cfg.RunLocal {
		addr := ":" + cfg.Port
		log.WithField("addr", addr).Info("running local server")
		if err := r.Run(addr); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to run local server")
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
