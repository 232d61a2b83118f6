package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohitkumar/drip/model"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a flow document. Files ending in .json are decoded as JSON,
// everything else as YAML.
func LoadFile(path string) (*model.Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flow file: %w", err)
	}
	return Decode(data, strings.EqualFold(filepath.Ext(path), ".json"))
}

func Decode(data []byte, isJSON bool) (*model.Flow, error) {
	var fl model.Flow
	if isJSON {
		if err := json.Unmarshal(data, &fl); err != nil {
			return nil, fmt.Errorf("decode flow json: %w", err)
		}
		return &fl, nil
	}
	if err := yaml.Unmarshal(data, &fl); err != nil {
		return nil, fmt.Errorf("decode flow yaml: %w", err)
	}
	return &fl, nil
}
