package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/rxtech-lab/argo-playbook/internal/backtest"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

const (
	engineSchemaName   = "backtest-engine-config.json"
	playbookSchemaName = "playbook.json"
	sampleConfigName   = "backtest-engine-config.yaml"
)

func main() {
	schemaDir := "./config"

	engineSchemaPath := filepath.Join(schemaDir, engineSchemaName)
	playbookSchemaPath := filepath.Join(schemaDir, playbookSchemaName)
	sampleConfigPath := filepath.Join(schemaDir, sampleConfigName)

	if err := validatePaths(engineSchemaPath, sampleConfigPath); err != nil {
		log.Fatalf("Invalid paths: %v", err)
	}

	config := backtest.EmptyConfig()

	engineSchema, err := config.GenerateSchemaJSON()
	if err != nil {
		log.Fatalf("Failed to generate engine config schema: %v", err)
	}

	playbookSchema, err := types.GeneratePlaybookSchemaJSON()
	if err != nil {
		log.Fatalf("Failed to generate playbook schema: %v", err)
	}

	if err := generateSchemaFile(engineSchema, engineSchemaPath); err != nil {
		log.Fatalf("Failed to write engine config schema: %v", err)
	}
	log.Printf("Schema successfully generated at %s", engineSchemaPath)

	if err := generateSchemaFile(playbookSchema, playbookSchemaPath); err != nil {
		log.Fatalf("Failed to write playbook schema: %v", err)
	}
	log.Printf("Schema successfully generated at %s", playbookSchemaPath)

	if err := generateSampleConfig(config, sampleConfigPath, engineSchemaName); err != nil {
		log.Fatalf("Failed to write sample config: %v", err)
	}
}

// generateSchemaFile writes a schema JSON document, creating the parent
// directory when needed.
func generateSchemaFile(schemaJSON string, schemaPath string) error {
	if err := validateSchemaName(filepath.Base(schemaPath)); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(schemaPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(schemaPath, []byte(schemaJSON), 0644); err != nil {
		return fmt.Errorf("failed to write schema to file: %w", err)
	}

	return nil
}

// generateSampleConfig writes a sample yaml config annotated with a
// yaml-language-server schema reference. An existing file is left untouched.
func generateSampleConfig(config backtest.EngineConfig, samplePath string, schemaName string) error {
	if _, err := os.Stat(samplePath); err == nil {
		return nil
	}

	yamlBytes, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal sample config to yaml: %w", err)
	}

	yamlBytes = append([]byte(getSchemaReference(schemaName)), yamlBytes...)

	if err := os.WriteFile(samplePath, yamlBytes, 0644); err != nil {
		return fmt.Errorf("failed to write sample config to file: %w", err)
	}

	log.Printf("Sample config successfully generated at %s", samplePath)

	return nil
}

func validatePaths(schemaPath string, sampleConfigPath string) error {
	if schemaPath == "" {
		return fmt.Errorf("schema path cannot be empty")
	}

	if sampleConfigPath == "" {
		return fmt.Errorf("sample config path cannot be empty")
	}

	return nil
}

func validateSchemaName(schemaName string) error {
	if schemaName == "" {
		return fmt.Errorf("schema name cannot be empty")
	}

	if !strings.HasSuffix(schemaName, ".json") {
		return fmt.Errorf("schema name must have .json extension")
	}

	return nil
}

func getSchemaReference(schemaName string) string {
	return "# yaml-language-server: $schema=" + schemaName + "\n"
}
