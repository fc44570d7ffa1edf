package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/go-taskbench/taskbench/app/report"
)

func main() {
	schema := report.GenerateSchema()

	schema.Title = "Taskbench Report Configuration Schema"
	schema.Description = "Schema for taskbench report YAML configuration file"
	schema.Version = "1.0.0"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal schema: %v", err)
	}

	outputPath := "schema.json"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	if err := os.WriteFile(outputPath, data, 0o600); err != nil { //nolint:gosec // schema file is not sensitive
		log.Fatalf("failed to write schema file: %v", err)
	}

	fmt.Printf("Schema generated successfully at %s\n", outputPath)
}
