// Package transfer moves contacts in and out of the address book as JSON
// or YAML documents.
package transfer

import (
	"encoding/json"
	"io"

	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/denismitr/abook"
)

var ErrInvalidDocument = errors.New("invalid contacts document")

type contact struct {
	ID       uint64 `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string `json:"name" yaml:"name"`
	Phone    string `json:"phone" yaml:"phone"`
	Email    string `json:"email" yaml:"email"`
	Address  string `json:"address" yaml:"address"`
	Birthday string `json:"birthday" yaml:"birthday"`
}

// ImportJSON reads an array of contact objects. Missing keys become empty
// fields; elements that are not objects are skipped and counted.
func ImportJSON(data []byte) ([]abook.Record, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, errors.Wrap(ErrInvalidDocument, "not valid json")
	}

	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, 0, errors.Wrap(ErrInvalidDocument, "expected a json array of contacts")
	}

	var records []abook.Record
	skipped := 0
	doc.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			skipped++
			return true
		}

		records = append(records, abook.NewRecord(
			v.Get("name").String(),
			v.Get("phone").String(),
			v.Get("email").String(),
			v.Get("address").String(),
			v.Get("birthday").String(),
		))
		return true
	})

	return records, skipped, nil
}

func toDocument(entries []abook.Entry) ([]contact, error) {
	doc := make([]contact, len(entries))
	for i := range entries {
		if err := copier.Copy(&doc[i], &entries[i].Record); err != nil {
			return nil, errors.Wrapf(err, "could not convert contact %s", entries[i].ID)
		}
		doc[i].ID = uint64(entries[i].ID)
	}

	return doc, nil
}

func ExportJSON(w io.Writer, entries []abook.Entry) error {
	doc, err := toDocument(entries)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "could not encode contacts as json")
	}

	return nil
}

func ExportYAML(w io.Writer, entries []abook.Entry) error {
	doc, err := toDocument(entries)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return errors.Wrap(err, "could not encode contacts as yaml")
	}

	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "could not encode contacts as yaml")
	}

	return nil
}
