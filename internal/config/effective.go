package config

import (
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const redacted = "****"

// secretKeys are masked in the effective configuration.
var secretKeys = map[string]bool{
	"access_token_secret": true,
	"token":               true,
}

// Effective renders the configuration as YAML with secrets masked and
// durations written the way they are read.
func (c *Config) Effective() ([]byte, error) {
	return yaml.Marshal(settings(reflect.ValueOf(*c)))
}

// settings converts a config struct into an ordered YAML mapping keyed by the
// fields' yaml tags.
func settings(v reflect.Value) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		value := v.Field(i)

		var valueNode *yaml.Node
		switch {
		case value.Kind() == reflect.Struct:
			valueNode = settings(value)
		case secretKeys[key]:
			s := value.String()
			if s != "" {
				s = redacted
			}
			valueNode = scalar(s)
		case value.Type() == reflect.TypeOf(time.Duration(0)):
			valueNode = scalar(time.Duration(value.Int()).String())
		default:
			valueNode = &yaml.Node{}
			if err := valueNode.Encode(value.Interface()); err != nil {
				valueNode = scalar("")
			}
		}
		node.Content = append(node.Content, scalar(key), valueNode)
	}
	return node
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}
