package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"

	// OutputFormatText prints generated text as-is and falls back to YAML
	// for structured values.
	OutputFormatText OutputFormat = "text"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatYAML

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat OutputFormat = OutputFormatYAML

// SetOutputFormat sets the global output format. Unknown names select
// DefaultOutput.
func SetOutputFormat(format string) {
	switch OutputFormat(strings.ToLower(format)) {
	case OutputFormatJSON:
		globalOutputFormat = OutputFormatJSON
	case OutputFormatYAML:
		globalOutputFormat = OutputFormatYAML
	case OutputFormatText:
		globalOutputFormat = OutputFormatText
	default:
		globalOutputFormat = DefaultOutput
	}
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputText writes text plainly in text mode; otherwise it writes full
// as structured output.
func OutputText(text string, full any) error {
	if globalOutputFormat == OutputFormatText {
		_, err := fmt.Fprintln(os.Stdout, text)
		return err
	}
	return Output(full)
}

// OutputTo writes data to the given writer in the specified format.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		return writeYAML(w, data)
	case OutputFormatText:
		if s, ok := data.(string); ok {
			_, err := fmt.Fprintln(w, s)
			return err
		}
		return writeYAML(w, data)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// writeYAML round-trips data through JSON so YAML keys follow the json
// tags of API types.
func writeYAML(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

// OutputToFile writes data to path. A .json extension selects JSON;
// anything else is YAML.
func OutputToFile(data any, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	format := OutputFormatYAML
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		format = OutputFormatJSON
	}
	if err := OutputTo(f, format, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
