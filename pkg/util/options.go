/*
Copyright 2023.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DecodeOptions decodes the given reader into the given object. The
// formatHint selects the document format. If the formatHint is empty,
// the format is guessed from the document itself.
func DecodeOptions(in io.Reader, formatHint string, out any) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read options: %w", err)
	}
	var format string
	switch strings.ToLower(formatHint) {
	case "yaml", "yml":
		format = "yaml"
	case "json":
		format = "json"
	case "toml":
		format = "toml"
	default:
		format = detectFormat(data)
	}
	switch format {
	case "yaml":
		return yaml.Unmarshal(data, out)
	case "json":
		return json.Unmarshal(data, out)
	case "toml":
		return toml.Unmarshal(data, out)
	}
	return fmt.Errorf("unknown options format: %q", format)
}

// DecodeOptionsFile decodes the file at the given path into the given
// object, using the file extension as the format hint.
func DecodeOptionsFile(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open options file: %w", err)
	}
	defer f.Close()
	hint := strings.TrimPrefix(filepath.Ext(path), ".")
	return DecodeOptions(f, hint, out)
}

func detectFormat(data []byte) string {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return "json"
	}
	if strings.HasPrefix(trimmed, "[") {
		return "toml"
	}
	// We gotta guess.
	if err := toml.Unmarshal(data, &struct{}{}); err == nil {
		return "toml"
	}
	// All JSON documents are valid YAML documents,
	// so YAML is the fallback.
	return "yaml"
}
