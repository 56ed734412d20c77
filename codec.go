package nettools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Codec is the object/text converter used for request bodies and response
// decoding. root, when given, is the element path decoding starts at.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any, root ...string) error
}

// JSONCodec is the default Codec. Root paths use jsonparser key syntax, so
// array elements are addressed as "[0]".
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec) Unmarshal(data []byte, v any, root ...string) error {
	if len(root) > 0 {
		sub, err := rootElement(data, root)
		if err != nil {
			return err
		}
		data = sub
	}
	return json.Unmarshal(data, v)
}

func rootElement(data []byte, root []string) ([]byte, error) {
	value, dataType, _, err := jsonparser.Get(data, root...)
	if err != nil {
		return nil, fmt.Errorf("root element %q: %w", strings.Join(root, "."), err)
	}
	switch dataType {
	case jsonparser.String:
		// Get strips the quotes but leaves escapes intact.
		quoted := make([]byte, 0, len(value)+2)
		quoted = append(quoted, '"')
		quoted = append(quoted, value...)
		return append(quoted, '"'), nil
	case jsonparser.Null:
		return []byte("null"), nil
	default:
		return value, nil
	}
}
