package pipeline

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse turns raw file content into a Node tree. Detection order is
// JSON, then XML if the trimmed content starts with '<', then YAML.
// Parse never raises: a content string that matches none of the three
// formats yields an empty map, because multiple formats may be
// superficially valid and the first successful parse wins. A
// nil/empty byte slice (file absent at this commit) also yields an
// empty map.
func Parse(content []byte) *Node {
	if len(bytes.TrimSpace(content)) == 0 {
		return NewMap()
	}
	if n, err := parseJSON(content); err == nil {
		return n
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '<' {
		if n, err := parseXML(content); err == nil {
			return n
		}
	}
	if n, err := parseYAML(content); err == nil {
		return n
	}
	return NewMap()
}

func parseJSON(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	// Reject trailing garbage so a YAML document that merely starts
	// with a JSON-looking scalar doesn't get mis-parsed as JSON.
	if dec.More() {
		return nil, fmt.Errorf("trailing content after JSON value")
	}
	return n, nil
}

func decodeJSONValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			n := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("non-string JSON object key")
				}
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				n.Entries = append(n.Entries, Entry{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return n, nil
		case '[':
			n := NewList()
			for dec.More() {
				val, err := decodeJSONValue(dec)
				if err != nil {
					return nil, err
				}
				n.Items = append(n.Items, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return n, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case string:
		return NewScalar(t), nil
	case json.Number:
		return NewScalar(t), nil
	case bool:
		return NewScalar(t), nil
	case nil:
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unexpected JSON token %v", tok)
	}
}

func parseXML(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return decodeXMLElement(dec, se)
		}
	}
}

func decodeXMLElement(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	n := NewMap()
	for _, attr := range start.Attr {
		n.set("@"+attr.Name.Local, NewScalar(attr.Value))
	}
	var text strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			n.appendOrMerge(t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if trimmed != "" && len(n.Entries) == 0 {
				return NewScalar(trimmed), nil
			}
			if trimmed != "" {
				n.set("#text", NewScalar(trimmed))
			}
			return n, nil
		}
	}
}

func parseYAML(data []byte) (*Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return convertYAMLNode(&doc)
}

func convertYAMLNode(yn *yaml.Node) (*Node, error) {
	switch yn.Kind {
	case yaml.DocumentNode:
		if len(yn.Content) == 0 {
			return NewMap(), nil
		}
		return convertYAMLNode(yn.Content[0])
	case yaml.MappingNode:
		n := NewMap()
		for i := 0; i+1 < len(yn.Content); i += 2 {
			val, err := convertYAMLNode(yn.Content[i+1])
			if err != nil {
				return nil, err
			}
			n.Entries = append(n.Entries, Entry{Key: yn.Content[i].Value, Value: val})
		}
		return n, nil
	case yaml.SequenceNode:
		n := NewList()
		for _, c := range yn.Content {
			val, err := convertYAMLNode(c)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, val)
		}
		return n, nil
	case yaml.ScalarNode:
		var v interface{}
		if err := yn.Decode(&v); err != nil {
			return nil, err
		}
		if v == nil {
			return NewNull(), nil
		}
		return NewScalar(v), nil
	case yaml.AliasNode:
		return convertYAMLNode(yn.Alias)
	default:
		return NewMap(), nil
	}
}
