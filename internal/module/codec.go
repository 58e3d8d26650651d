package module

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Codec decodes a module file's bytes into its exported members.
type Codec func(data []byte) (map[string]any, error)

// DefaultExtensions is the probe order for specifiers without an extension.
var DefaultExtensions = []string{".yaml", ".yml", ".toml", ".json"}

// DefaultCodecs maps lower-case file extensions to decoders.
func DefaultCodecs() map[string]Codec {
	return map[string]Codec{
		".yaml": DecodeYAML,
		".yml":  DecodeYAML,
		".toml": DecodeTOML,
		".json": DecodeJSON,
	}
}

func DecodeYAML(data []byte) (map[string]any, error) {
	members := map[string]any{}
	if err := yaml.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return nonNil(members), nil
}

func DecodeTOML(data []byte) (map[string]any, error) {
	members := map[string]any{}
	if _, err := toml.Decode(string(data), &members); err != nil {
		return nil, err
	}
	return nonNil(members), nil
}

func DecodeJSON(data []byte) (map[string]any, error) {
	if strings.TrimSpace(string(data)) == "" {
		return map[string]any{}, nil
	}
	var members map[string]any
	if err := sonic.Unmarshal(data, &members); err != nil {
		return nil, err
	}
	return nonNil(members), nil
}

func nonNil(members map[string]any) map[string]any {
	if members == nil {
		return map[string]any{}
	}
	return members
}
