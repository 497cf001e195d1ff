package sqlpersist

import "encoding/json"

func marshalJSON(v interface{}) (string, error) {
	body, err := json.Marshal(v)
	return string(body), err
}

func unmarshalJSON(body string, v interface{}) error {
	return json.Unmarshal([]byte(body), v)
}
