package main

import (
	"fmt"

	"github.com/c360/apicore/config"
)

// OpenAPIDocument represents the complete OpenAPI 3.0 specification
type OpenAPIDocument struct {
	OpenAPI    string              `yaml:"openapi"`
	Info       InfoObject          `yaml:"info"`
	Servers    []ServerObject      `yaml:"servers"`
	Paths      map[string]PathItem `yaml:"paths"`
	Components ComponentsObject    `yaml:"components"`
	Tags       []TagObject         `yaml:"tags"`
}

// InfoObject contains API metadata
type InfoObject struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
}

// ServerObject defines an API server
type ServerObject struct {
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
}

// ComponentsObject holds reusable objects
type ComponentsObject struct {
	Schemas map[string]any `yaml:"schemas"`
}

// TagObject defines an API tag
type TagObject struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// PathItem describes operations available on a path
type PathItem struct {
	Get *Operation `yaml:"get,omitempty"`
}

// Operation describes a single API operation
type Operation struct {
	Summary     string              `yaml:"summary"`
	Description string              `yaml:"description,omitempty"`
	Tags        []string            `yaml:"tags,omitempty"`
	Responses   map[string]Response `yaml:"responses"`
}

// Response describes an operation response
type Response struct {
	Description string               `yaml:"description"`
	Content     map[string]MediaType `yaml:"content,omitempty"`
}

// MediaType describes a response body
type MediaType struct {
	Schema map[string]any `yaml:"schema"`
}

func ref(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

// generateOpenAPISpec describes the endpoints served by metric.Server.
func generateOpenAPISpec(metrics config.MetricsConfig) OpenAPIDocument {
	healthJSON := map[string]MediaType{"application/json": {Schema: ref("HealthStatus")}}

	return OpenAPIDocument{
		OpenAPI: "3.0.3",
		Info: InfoObject{
			Title:       "apicore Operations API",
			Description: "Prometheus metrics and aggregated health of the apicore coordinator.",
			Version:     "1.0.0",
		},
		Servers: []ServerObject{{
			URL:         fmt.Sprintf("http://localhost:%d", metrics.Port),
			Description: "Default metrics server",
		}},
		Paths: map[string]PathItem{
			metrics.Path: {Get: &Operation{
				Summary: "Prometheus metrics",
				Tags:    []string{"observability"},
				Responses: map[string]Response{
					"200": {
						Description: "Text exposition format",
						Content: map[string]MediaType{
							"text/plain": {Schema: map[string]any{"type": "string"}},
						},
					},
				},
			}},
			"/health": {Get: &Operation{
				Summary:     "Aggregated health",
				Description: "Degraded when the remote cache tier is unavailable; unhealthy after shutdown.",
				Tags:        []string{"observability"},
				Responses: map[string]Response{
					"200": {Description: "Healthy or degraded", Content: healthJSON},
					"503": {Description: "Unhealthy", Content: healthJSON},
				},
			}},
		},
		Components: ComponentsObject{
			Schemas: map[string]any{
				"HealthStatus": map[string]any{
					"type":     "object",
					"required": []string{"component", "healthy", "status", "timestamp"},
					"properties": map[string]any{
						"component": map[string]any{"type": "string"},
						"healthy":   map[string]any{"type": "boolean"},
						"status": map[string]any{
							"type": "string",
							"enum": []string{"healthy", "degraded", "unhealthy"},
						},
						"message":      map[string]any{"type": "string"},
						"timestamp":    map[string]any{"type": "string", "format": "date-time"},
						"details":      map[string]any{"type": "object", "additionalProperties": true},
						"sub_statuses": map[string]any{"type": "array", "items": ref("HealthStatus")},
					},
				},
			},
		},
		Tags: []TagObject{{Name: "observability", Description: "Metrics and health"}},
	}
}
