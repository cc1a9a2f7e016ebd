package imtypes

import (
	"encoding/json"
	"strconv"
	"strings"
)

const localPrefix = "local:"

// ID is a server-assigned identity. The backend sends numeric ids, but string
// ids are accepted as well and kept verbatim.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as JSON numbers so the backend can bind them to integers.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, ok := id.Int(); ok {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Int returns the numeric value of id when it is an integer.
func (id ID) Int() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

func (id ID) String() string { return string(id) }

// LocalID names a message the server delivered without an id. Local ids are
// never sent back to the server.
func LocalID(seed string) ID { return ID(localPrefix + seed) }

// IsLocal reports whether id was made by LocalID.
func (id ID) IsLocal() bool { return strings.HasPrefix(string(id), localPrefix) }
