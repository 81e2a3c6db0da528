package conversation

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Export struct {
	Conversation *Conversation `yaml:"conversation"`
	Messages     []*Message    `yaml:"messages"`
}

// ExportYAML writes a conversation and its history as a yaml document.
func ExportYAML(w io.Writer, c *Conversation, messages []*Message) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&Export{Conversation: c, Messages: messages}); err != nil {
		return errors.Wrap(err, "could not encode conversation")
	}
	return enc.Close()
}

func ImportYAML(r io.Reader) (*Export, error) {
	ret := &Export{}
	if err := yaml.NewDecoder(r).Decode(ret); err != nil {
		return nil, errors.Wrap(err, "could not decode conversation")
	}
	if ret.Conversation == nil {
		return nil, errors.New("missing conversation")
	}
	return ret, nil
}
