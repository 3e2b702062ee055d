// Command schemagen writes JSON schemas for the telemetry messages.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"walkersim.dev/internal/telemetryproto"
)

var messages = []struct {
	name string
	v    any
}{
	{telemetryproto.TypeWorldInfo, new(telemetryproto.WorldInfoMsg)},
	{telemetryproto.TypeState, new(telemetryproto.StateMsg)},
	{telemetryproto.TypePlayerZones, new(telemetryproto.PlayerZonesMsg)},
	{telemetryproto.TypeInactiveAgents, new(telemetryproto.InactiveAgentsMsg)},
	{telemetryproto.TypeActiveAgents, new(telemetryproto.ActiveAgentsMsg)},
	{"bootstrap", new(telemetryproto.BootstrapResponse)},
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "schemas", "directory to write the schemas into")
	flag.Parse()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create schema directory: %v\n", err)
		os.Exit(1)
	}
	reflector := jsonschema.Reflector{AllowAdditionalProperties: true}
	for _, m := range messages {
		schema := reflector.Reflect(m.v)
		schema.Title = "walkersim telemetry " + m.name
		path := filepath.Join(outDir, m.name+".schema.json")
		if err := writeSchema(path, schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
