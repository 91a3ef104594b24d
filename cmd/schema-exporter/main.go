// Package main exports the apicore configuration schema, example
// configuration files and an OpenAPI description of the metrics server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/apicore/config"
)

const schemaFile = "apicore-config.v1.json"

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Schema export failed: %v", err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("schema-exporter", flag.ContinueOnError)
	outDir := fs.String("out", "./schemas", "Output directory for the configuration schema and examples")
	openapiOut := fs.String("openapi", "./specs/openapi.v3.yaml", "Output path for the OpenAPI spec, empty to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.Printf("Schema Exporter")
	log.Printf("  Output dir: %s", *outDir)
	log.Printf("  OpenAPI spec: %s", *openapiOut)

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	schema := config.Schema()
	if err := validateDefaults(schema); err != nil {
		return err
	}

	schemaPath := filepath.Join(*outDir, schemaFile)
	if err := writeFile(schemaPath, indentJSON(schema)); err != nil {
		return err
	}
	log.Printf("  Generated: %s", schemaPath)

	defaults := config.DefaultConfig()
	for _, name := range []string{"apicore.example.json", "apicore.example.yaml"} {
		path := filepath.Join(*outDir, name)
		if err := defaults.SaveToFile(path); err != nil {
			return fmt.Errorf("write example %s: %w", name, err)
		}
		log.Printf("  Generated: %s", path)
	}

	if *openapiOut != "" {
		if err := os.MkdirAll(filepath.Dir(*openapiOut), 0o755); err != nil {
			return fmt.Errorf("create OpenAPI directory: %w", err)
		}
		data, err := yaml.Marshal(generateOpenAPISpec(config.DefaultConfig().Metrics))
		if err != nil {
			return fmt.Errorf("marshal OpenAPI spec: %w", err)
		}
		if err := writeFile(*openapiOut, data); err != nil {
			return err
		}
		log.Printf("  Generated OpenAPI spec: %s", *openapiOut)
	}

	log.Printf("Schema generation complete")
	return nil
}

// validateDefaults checks that the default configuration, as written to the
// example files, satisfies the exported schema.
func validateDefaults(schema []byte) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	doc, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate defaults: %w", err)
	}
	if !result.Valid() {
		msg := "default configuration violates schema:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf("\n  - %s: %s", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func indentJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
