package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type BlockType string

const BLOCK_TYPE_EMAIL_LIST BlockType = "emailList"
const BLOCK_TYPE_SEND_EMAIL BlockType = "sendEmail"
const BLOCK_TYPE_WAIT BlockType = "wait"

const WAIT_UNIT_SECONDS string = "seconds"
const WAIT_UNIT_MINUTES string = "minutes"

// Block is one step of a linearized flow. Only the fields belonging to Type
// are meaningful.
type Block struct {
	Type     BlockType    `json:"type" yaml:"type"`
	Emails   Recipients   `json:"emails,omitempty" yaml:"emails,omitempty"`
	Subject  string       `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body     string       `json:"body,omitempty" yaml:"body,omitempty"`
	Duration WaitDuration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Unit     string       `json:"unit,omitempty" yaml:"unit,omitempty"`
}

type Sequence []Block

// Recipients decodes either a list of addresses or a newline separated
// string, which is what the flow editor textarea produces.
type Recipients []string

func (r *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = splitRecipients(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("emails must be a list of strings or a newline separated string: %w", err)
	}
	*r = cleanRecipients(list)
	return nil
}

func (r *Recipients) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*r = splitRecipients(value.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*r = cleanRecipients(list)
		return nil
	}
	return fmt.Errorf("line %d: emails must be a list or a string", value.Line)
}

func splitRecipients(s string) Recipients {
	return cleanRecipients(strings.Split(s, "\n"))
}

func cleanRecipients(list []string) Recipients {
	res := make(Recipients, 0, len(list))
	for _, e := range list {
		e = strings.TrimSpace(e)
		if e != "" {
			res = append(res, e)
		}
	}
	return res
}

// WaitDuration keeps the raw duration text so the compiler can report
// non-numeric or negative values instead of failing at decode time.
type WaitDuration string

func (d *WaitDuration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = WaitDuration(strings.TrimSpace(s))
		return nil
	}
	*d = WaitDuration(data)
	return nil
}

func (d WaitDuration) MarshalJSON() ([]byte, error) {
	if _, err := json.Number(d).Int64(); err == nil {
		return []byte(d), nil
	}
	return json.Marshal(string(d))
}

func (d *WaitDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	*d = WaitDuration(strings.TrimSpace(value.Value))
	return nil
}
