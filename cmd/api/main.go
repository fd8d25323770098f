// cmd/api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gymnexus/internal/platform/config"
	"gymnexus/internal/platform/otel"
)

type Config struct {
	CatalogServiceURL    string `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8081"`
	MembershipServiceURL string `env:"MEMBERSHIP_SERVICE_URL" envDefault:"http://localhost:8082"`
	SchedulingServiceURL string `env:"SCHEDULING_SERVICE_URL" envDefault:"http://localhost:8083"`
	Port                 string `env:"PORT" envDefault:"8080"`
}

func main() {
	ctx := context.Background()

	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	shutdown, err := otel.Setup(ctx, "api-gateway")
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer shutdown(ctx)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Mount("/api/v1/catalog", http.StripPrefix("/api/v1/catalog", proxyTo(cfg.CatalogServiceURL)))
	router.Mount("/api/v1/memberships", http.StripPrefix("/api/v1/memberships", proxyTo(cfg.MembershipServiceURL)))
	router.Mount("/api/v1/scheduling", http.StripPrefix("/api/v1/scheduling", proxyTo(cfg.SchedulingServiceURL)))

	log.Printf("API Gateway listening on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, router))
}

func proxyTo(rawURL string) http.Handler {
	target, err := url.Parse(rawURL)
	if err != nil {
		log.Fatalf("Invalid service URL %q: %v", rawURL, err)
	}
	return httputil.NewSingleHostReverseProxy(target)
}
