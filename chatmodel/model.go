package chatmodel

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidChatContext = errors.New("invalid chat context")
	ErrInvalidArguments   = errors.New("failed to unmarshal tool arguments: check the schema and try again")
)

type Stringer interface {
	String() string
}

// Stringify returns the textual form of a tool result,
// as it is sent back to the model.
func Stringify(s any) string {
	switch v := s.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case Stringer:
		return v.String()
	case error:
		return v.Error()
	}
	bs, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%v", s)
	}
	return string(bs)
}
